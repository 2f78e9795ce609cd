// Package flow implements the Tool Call Loop: the request/response cycle
// between the model-producing component and externally-executed tools.
//
// A Loop drives one logical exchange. Each model turn is streamed as run
// events; when the model requests tool calls, the loop seals their argument
// buffers, executes the whole batch concurrently, folds every result into a
// tool-role message, and re-enters the model with the updated history as a
// continuation. The loop is the only component permitted to initiate a
// continuation from within an exchange; executors are pure request to result
// mappings with no side channel back into the event stream.
package flow
