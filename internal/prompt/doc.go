// Package prompt holds the text sent to the model outside the conversation
// itself: the care assistant system prompt with its request-origin hints,
// and the chat title prompt together with CleanTitle for its output.
package prompt
