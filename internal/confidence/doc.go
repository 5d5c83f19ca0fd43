// Package confidence ranks the discovered tools for a turn using the tool
// server's confidence meta-tool and narrows the set the model may call.
//
// Evaluate never fails a turn: any problem calling the meta-tool yields a
// nil Ranking, which SelectActive treats as "offer every tool".
package confidence
