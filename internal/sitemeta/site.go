package sitemeta

// Site describes one static fence instruction.
type Site struct {
	FenceID  uint32
	Location string  // file:line, empty when unknown
	Epochs   []int64 // epochs opened by this site, in bind order
}
