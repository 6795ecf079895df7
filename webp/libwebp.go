package webp

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/jrm-1535/imaging"
)

// libwebp is dynamically loaded on first use: this package links no cgo and
// carries no static dependency on libwebp, only an FFI boundary resolved at
// runtime.
var (
	libOnce sync.Once
	libErr  error

	webpGetDecoderVersion func() int32
	webpGetInfo           func(data unsafe.Pointer, dataSize uintptr, width, height *int32) int32
	webpDecodeRGBA        func(data unsafe.Pointer, dataSize uintptr, width, height *int32) uintptr
	webpFree              func(ptr uintptr)
	webpEncodeRGBA        func(rgba unsafe.Pointer, width, height, stride int32, quality float32, output *uintptr) uintptr
	webpEncodeRGB         func(rgb unsafe.Pointer, width, height, stride int32, quality float32, output *uintptr) uintptr
)

// candidateLibraryNames lists the shared-library names tried, in order, per
// platform. Distributions differ on SONAME suffixing, so a few are tried.
func candidateLibraryNames() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"libwebp.dylib", "libwebp.7.dylib", "/opt/homebrew/lib/libwebp.dylib", "/usr/local/lib/libwebp.dylib"}
	case "windows":
		return []string{"libwebp.dll"}
	default:
		return []string{"libwebp.so.7", "libwebp.so.6", "libwebp.so"}
	}
}

// loadLibWebP dlopens libwebp and resolves the handful of decode.h/encode.h
// entry points this adapter calls, exactly once per process.
func loadLibWebP() error {
	libOnce.Do(func() {
		var handle uintptr
		var err error
		for _, name := range candidateLibraryNames() {
			handle, err = purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
			if err == nil {
				break
			}
		}
		if handle == 0 {
			libErr = imaging.WrapError("webp.loadLibWebP", imaging.ExternalFailure, err)
			return
		}

		purego.RegisterLibFunc(&webpGetDecoderVersion, handle, "WebPGetDecoderVersion")
		purego.RegisterLibFunc(&webpGetInfo, handle, "WebPGetInfo")
		purego.RegisterLibFunc(&webpDecodeRGBA, handle, "WebPDecodeRGBA")
		purego.RegisterLibFunc(&webpFree, handle, "WebPFree")
		purego.RegisterLibFunc(&webpEncodeRGBA, handle, "WebPEncodeRGBA")
		purego.RegisterLibFunc(&webpEncodeRGB, handle, "WebPEncodeRGB")
	})
	return libErr
}
