// Package output provides formatters for converting kernel reports into output formats.
//
// TextFormatter prints the fence advice and the counter, timing and memory
// sections as plain text. The fence lines have the shape
//
//	Fence@<location> | Epoch: <n> | Info: <ops>/<next ops> | Type: <verdict>
//
// which downstream scripts split on "|" and ":".
//
// OTELFormatter is a pure formatting layer that:
//   - Receives finished analysis reports
//   - Creates one OpenTelemetry span per kernel and one span event per fence
//   - Sets span attributes from the report and the custom attributes
//
// It does NOT run the analysis or evaluate filters on its own data model:
// expression evaluation is delegated to the attributes package.
package output
