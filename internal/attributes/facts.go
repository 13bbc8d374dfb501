package attributes

// KernelFacts describe one analyzed kernel invocation.
type KernelFacts struct {
	Kernel          string
	Input           string // trace path
	Threads         uint64
	ThreadsPerBlock uint32
	Fences          int
	Removable       int
	Environ         map[string]string
}

// FenceFacts describe the verdict on one fence.
type FenceFacts struct {
	Kernel    string
	Epoch     int64
	FenceID   uint32
	Location  string
	Type      string
	Ops       string
	NextOps   string
	Removable bool
}

// kernelEnvPrototype and fenceEnvPrototype type-check expressions at compile time.
var kernelEnvPrototype = map[string]interface{}{
	"kernel":    "",
	"input":     "",
	"threads":   0,
	"block":     0,
	"fences":    0,
	"removable": 0,
	"env":       map[string]string{},
}

var fenceEnvPrototype = map[string]interface{}{
	"kernel":    "",
	"epoch":     0,
	"fence_id":  0,
	"location":  "",
	"type":      "",
	"ops":       "",
	"next_ops":  "",
	"removable": false,
}

func (k *KernelFacts) env() map[string]interface{} {
	environ := k.Environ
	if environ == nil {
		environ = map[string]string{}
	}
	return map[string]interface{}{
		"kernel":    k.Kernel,
		"input":     k.Input,
		"threads":   int(k.Threads), //nolint:gosec // launch sizes fit in int
		"block":     int(k.ThreadsPerBlock),
		"fences":    k.Fences,
		"removable": k.Removable,
		"env":       environ,
	}
}

func (f *FenceFacts) env() map[string]interface{} {
	return map[string]interface{}{
		"kernel":    f.Kernel,
		"epoch":     int(f.Epoch),
		"fence_id":  int(f.FenceID),
		"location":  f.Location,
		"type":      f.Type,
		"ops":       f.Ops,
		"next_ops":  f.NextOps,
		"removable": f.Removable,
	}
}
