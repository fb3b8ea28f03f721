//go:build !govips || !cgo

package pipeline

func Startup(RuntimeConfig) error {
	return nil
}

func Shutdown() {}

func newTransformer() (Transformer, error) {
	return stdTransformer{}, nil
}
