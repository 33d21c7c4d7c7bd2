//go:build !windows && !(darwin && cgo)

package ghosthand

func newNativeBackend(Options, ProcessObserver) (Backend, error) {
	return nil, ErrUnsupportedPlatform
}
