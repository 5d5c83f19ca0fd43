// Package builtins provides the interactive tools that run inside the chat
// engine rather than on the tool server.
//
// # Tools
//
//   - options-select: present 2 to 12 clickable options
//   - date-select: ask for a single YYYY-MM-DD date
//   - timeslot-select: present appointment slots returned by availability_search
//
// Each tool normalises its input and echoes it back as output; the client
// renders the question and the user's pick arrives as the next user message.
// options-select and date-select end the turn once called. timeslot-select
// does not.
package builtins
