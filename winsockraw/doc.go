// Package winsockraw binds the WinSockRaw user mode library.
//
// Its declarations are generated by wsrbuild from winsockraw.h and keep
// the native names unchanged. Regenerate them on a Windows machine with
// Visual Studio installed:
//
//	go generate ./winsockraw
//
// The generated link file points cgo at the freshly built
// WinSockRawDll.dll, which must also be on PATH when the program runs.
package winsockraw

//go:generate go run ../cmd/wsrbuild build --manifest-dir .. --out-dir ../target/wsrbuild --profile release --target x86_64-pc-windows-msvc --binding-dir .
