package bindgen

import (
	"errors"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawsock/wsrbuild/internal/cheader"
)

func parseFixture(t *testing.T) *cheader.Header {
	t.Helper()
	src, err := os.ReadFile("../cheader/testdata/winsockraw.h")
	require.NoError(t, err)
	h, err := cheader.Parse("winsockraw.h", src)
	require.NoError(t, err)
	return h
}

func generate(t *testing.T, src string, opts Options) (*ast.File, *Output) {
	t.Helper()
	h, err := cheader.Parse("test.h", []byte(src))
	require.NoError(t, err)
	out, err := Generate(h, opts)
	require.NoError(t, err)
	return parseGo(t, out.Source), out
}

func parseGo(t *testing.T, src []byte) *ast.File {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), "z.go", src, parser.ParseComments)
	require.NoError(t, err, "%s", src)
	return f
}

// topLevel counts the package-level names declared in f.
func topLevel(f *ast.File) map[string]int {
	names := map[string]int{}
	for _, d := range f.Decls {
		switch d := d.(type) {
		case *ast.FuncDecl:
			names[d.Name.Name]++
		case *ast.GenDecl:
			for _, s := range d.Specs {
				switch s := s.(type) {
				case *ast.TypeSpec:
					names[s.Name.Name]++
				case *ast.ValueSpec:
					for _, n := range s.Names {
						names[n.Name]++
					}
				}
			}
		}
	}
	return names
}

func typeSpec(t *testing.T, f *ast.File, name string) *ast.TypeSpec {
	t.Helper()
	for _, d := range f.Decls {
		if gd, ok := d.(*ast.GenDecl); ok {
			for _, s := range gd.Specs {
				if ts, ok := s.(*ast.TypeSpec); ok && ts.Name.Name == name {
					return ts
				}
			}
		}
	}
	t.Fatalf("type %s not declared", name)
	return nil
}

func valueSpec(t *testing.T, f *ast.File, name string) *ast.ValueSpec {
	t.Helper()
	for _, d := range f.Decls {
		if gd, ok := d.(*ast.GenDecl); ok {
			for _, s := range gd.Specs {
				if vs, ok := s.(*ast.ValueSpec); ok && vs.Names[0].Name == name {
					return vs
				}
			}
		}
	}
	t.Fatalf("const %s not declared", name)
	return nil
}

func funcDecl(t *testing.T, f *ast.File, name string) *ast.FuncDecl {
	t.Helper()
	for _, d := range f.Decls {
		if fd, ok := d.(*ast.FuncDecl); ok && fd.Name.Name == name {
			return fd
		}
	}
	t.Fatalf("func %s not declared", name)
	return nil
}

func TestGenerateWinSockRaw(t *testing.T) {
	out, err := Generate(parseFixture(t), Options{Opaque: []string{"_IMAGE_TLS_DIRECTORY64"}})
	require.NoError(t, err)
	require.Empty(t, out.Skipped)

	src := string(out.Source)
	require.True(t, strings.HasPrefix(src, "// Code generated by wsrbuild from winsockraw.h. DO NOT EDIT.\n"))
	require.Contains(t, src, "//go:build windows && amd64\n")
	require.Contains(t, src, "#include \"winsockraw.h\"")

	f := parseGo(t, out.Source)
	require.Equal(t, "winsockraw", f.Name.Name)

	names := topLevel(f)
	for _, name := range []string{
		"SocketRawOpen", "SocketRawBind", "SocketRawRecv", "SocketRawSend", "SocketRawClose",
		"WINSOCKRAW_INTERACE_ANY_INDEX", "WINSOCKRAW_MAX_PACKET_SIZE", "WINSOCKRAW_DEVICE_NAME",
		"_WINSOCKRAW_DIRECTION", "WINSOCKRAW_DIRECTION",
		"WinSockRawDirectionInbound", "WinSockRawDirectionOutbound", "WinSockRawDirectionBoth",
		"_WINSOCKRAW_STATISTICS", "WINSOCKRAW_STATISTICS", "PWINSOCKRAW_STATISTICS",
		"_IMAGE_TLS_DIRECTORY64",
		"BOOL", "HANDLE", "PULONG", "PVOID", "UCHAR", "ULONG", "ULONG64", "TRUE", "FALSE",
	} {
		require.Equal(t, 1, names[name], "declarations of %s", name)
	}
	for name, n := range names {
		require.Equal(t, 1, n, "declarations of %s", name)
	}

	tls := typeSpec(t, f, "_IMAGE_TLS_DIRECTORY64")
	require.Equal(t, "struct{_ [0]byte}", types.ExprString(tls.Type))

	stats := typeSpec(t, f, "_WINSOCKRAW_STATISTICS")
	require.Equal(t, "struct{PacketsReceived ULONG64; PacketsSent ULONG64; PacketsDropped ULONG; Reserved [4]UCHAR}",
		types.ExprString(stats.Type))
	require.Equal(t, "*_WINSOCKRAW_STATISTICS", types.ExprString(typeSpec(t, f, "PWINSOCKRAW_STATISTICS").Type))
	require.True(t, typeSpec(t, f, "ULONG").Assign.IsValid())
	require.Equal(t, "uint32", types.ExprString(typeSpec(t, f, "ULONG").Type))
	require.Equal(t, "unsafe.Pointer", types.ExprString(typeSpec(t, f, "HANDLE").Type))
	require.Equal(t, "*ULONG", types.ExprString(typeSpec(t, f, "PULONG").Type))

	// the any-interface index is typed like the bind parameter it is passed to
	anyIndex := valueSpec(t, f, "WINSOCKRAW_INTERACE_ANY_INDEX")
	require.Equal(t, "ULONG", types.ExprString(anyIndex.Type))
	require.Equal(t, "4294967295", types.ExprString(anyIndex.Values[0]))
	bind := funcDecl(t, f, "SocketRawBind")
	require.Equal(t, "ULONG", types.ExprString(bind.Type.Params.List[1].Type))
	require.Equal(t, "InterfaceIndex", bind.Type.Params.List[1].Names[0].Name)
	require.Equal(t, "BOOL", types.ExprString(bind.Type.Results.List[0].Type))
	require.Contains(t, src, "*(*C.BOOL)(unsafe.Pointer(&ret)) = C.SocketRawBind(*(*C.HANDLE)(unsafe.Pointer(&hSocket)), *(*C.ULONG)(unsafe.Pointer(&InterfaceIndex)))")

	require.Nil(t, funcDecl(t, f, "SocketRawClose").Type.Results)
	require.Equal(t, "_WINSOCKRAW_DIRECTION", types.ExprString(valueSpec(t, f, "WinSockRawDirectionBoth").Type))
	require.Equal(t, "3", types.ExprString(valueSpec(t, f, "WinSockRawDirectionBoth").Values[0]))
	require.Equal(t, `"\\\\.\\WinSockRaw"`, types.ExprString(valueSpec(t, f, "WINSOCKRAW_DEVICE_NAME").Values[0]))
}

func TestGenerateDeterministic(t *testing.T) {
	opts := Options{Opaque: []string{"_IMAGE_TLS_DIRECTORY64"}}
	first, err := Generate(parseFixture(t), opts)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Generate(parseFixture(t), opts)
		require.NoError(t, err)
		require.Equal(t, string(first.Source), string(again.Source))
	}
}

func TestGenerateOpaqueOverridesDefinition(t *testing.T) {
	f, out := generate(t, `
typedef struct _IMAGE_TLS_DIRECTORY64 {
    ULONGLONG StartAddressOfRawData;
    ULONGLONG EndAddressOfRawData;
} IMAGE_TLS_DIRECTORY64, *PIMAGE_TLS_DIRECTORY64;

void WINAPI UseTls(PIMAGE_TLS_DIRECTORY64 Dir);
`, Options{Opaque: []string{"_IMAGE_TLS_DIRECTORY64"}})

	require.Equal(t, []string{"_IMAGE_TLS_DIRECTORY64: declared opaque"}, out.Skipped)
	require.Equal(t, "struct{_ [0]byte}", types.ExprString(typeSpec(t, f, "_IMAGE_TLS_DIRECTORY64").Type))
	require.Equal(t, "_IMAGE_TLS_DIRECTORY64", types.ExprString(typeSpec(t, f, "IMAGE_TLS_DIRECTORY64").Type))
	require.Equal(t, "*_IMAGE_TLS_DIRECTORY64", types.ExprString(typeSpec(t, f, "PIMAGE_TLS_DIRECTORY64").Type))
	require.NotContains(t, string(out.Source), "StartAddressOfRawData")
}

func TestGenerateOpaqueByValue(t *testing.T) {
	h, err := cheader.Parse("test.h", []byte("struct _HIDDEN;\nvoid Take(struct _HIDDEN h);\n"))
	require.NoError(t, err)
	_, err = Generate(h, Options{})
	require.True(t, errors.Is(err, ErrUnsupported), "err = %v", err)
	require.Contains(t, err.Error(), "test.h:2:6: Take: parameter 1")
}

const layoutHeader = `
typedef union _WSR_ADDR {
    ULONG  Ipv4;
    PVOID  Context;
    UCHAR  Bytes[3];
} WSR_ADDR;

typedef struct _WSR_FLAGS {
    ULONG  Promiscuous : 1;
    ULONG  Reserved : 31;
    USHORT Version : 4;
} WSR_FLAGS;

typedef struct _WSR_NODE {
    struct _WSR_PEER *Peer;
    union {
        ULONG  Index;
        UCHAR  Raw[6];
    };
    int    type;
} WSR_NODE;

int __cdecl WsrTrace(const char *Format, ...);
void WsrCallback(void (CALLBACK *Fn)(PVOID), const char *Name);
extern ULONG WsrCounters[4];
`

func TestGenerateLayouts(t *testing.T) {
	tests := []struct {
		goarch string
		addr   string
		flags  string
		node   string
	}{
		{"amd64", "struct{_ [1]uint64}", "struct{_ [2]uint32}", "struct{Peer *_WSR_PEER; anon0 struct{_ [2]uint32}; _type int32}"},
		{"386", "struct{_ [1]uint32}", "struct{_ [2]uint32}", "struct{Peer *_WSR_PEER; anon0 struct{_ [2]uint32}; _type int32}"},
	}
	for _, tt := range tests {
		t.Run(tt.goarch, func(t *testing.T) {
			f, out := generate(t, layoutHeader, Options{Package: "wsr", GOARCH: tt.goarch})
			require.Equal(t, "wsr", f.Name.Name)
			require.Contains(t, string(out.Source), "//go:build windows && "+tt.goarch+"\n")
			require.Equal(t, tt.addr, types.ExprString(typeSpec(t, f, "_WSR_ADDR").Type))
			require.Equal(t, tt.flags, types.ExprString(typeSpec(t, f, "_WSR_FLAGS").Type))
			require.Equal(t, tt.node, types.ExprString(typeSpec(t, f, "_WSR_NODE").Type))
			require.Equal(t, "struct{_ [0]byte}", types.ExprString(typeSpec(t, f, "_WSR_PEER").Type))
		})
	}
}

func TestGeneratePadding(t *testing.T) {
	const header = `
typedef struct _MIXED { ULONG a; ULONG64 b; } MIXED;
typedef struct _TAIL { ULONG64 b; ULONG a; } TAIL;
typedef struct _HOLDER {
    ULONG a;
    union { ULONG64 q; ULONG d; };
} HOLDER;
typedef struct _OUTER { ULONG a; TAIL t; } OUTER;
`
	tests := []struct {
		goarch string
		want   map[string]string
	}{
		{"amd64", map[string]string{
			"_MIXED":  "struct{a ULONG; b ULONG64}",
			"_TAIL":   "struct{b ULONG64; a ULONG}",
			"_HOLDER": "struct{a ULONG; anon0 struct{_ [1]uint64}}",
			"_OUTER":  "struct{a ULONG; t TAIL}",
		}},
		{"386", map[string]string{
			"_MIXED":  "struct{a ULONG; _ [4]byte; b ULONG64}",
			"_TAIL":   "struct{b ULONG64; a ULONG; _ [4]byte}",
			"_HOLDER": "struct{a ULONG; _ [4]byte; anon0 struct{_ [1]uint64}}",
			"_OUTER":  "struct{a ULONG; _ [4]byte; t TAIL}",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.goarch, func(t *testing.T) {
			f, _ := generate(t, header, Options{GOARCH: tt.goarch})
			for name, want := range tt.want {
				require.Equal(t, want, types.ExprString(typeSpec(t, f, name).Type), name)
			}
		})
	}
}

func TestGeneratePacked(t *testing.T) {
	const header = `
#pragma pack(push, 1)
typedef struct { UCHAR a; ULONG b; } P;
#pragma pack(pop)
#include <pshpack2.h>
typedef struct _P2 { USHORT a; ULONG b; } P2;
#include <poppack.h>
typedef struct { UCHAR a; ULONG b; } NATURAL;
`
	for _, goarch := range []string{"amd64", "386"} {
		t.Run(goarch, func(t *testing.T) {
			f, out := generate(t, header, Options{GOARCH: goarch})
			require.Empty(t, out.Skipped)
			names := topLevel(f)
			require.Equal(t, 1, names["P"])
			require.Equal(t, 1, names["NATURAL"])
			require.Equal(t, "struct{_ [5]uint8}", types.ExprString(typeSpec(t, f, "P").Type))
			require.Equal(t, "struct{_ [3]uint16}", types.ExprString(typeSpec(t, f, "_P2").Type))
			require.Equal(t, "struct{a UCHAR; b ULONG}", types.ExprString(typeSpec(t, f, "NATURAL").Type))
		})
	}
}

func TestGenerateSkipsInline(t *testing.T) {
	f, out := generate(t, "static __inline int WsrInline(int x) { return x + 1; }\nvoid WsrReset(void);\n", Options{})
	require.Equal(t, []string{"WsrInline: inline definition is not exported from the DLL"}, out.Skipped)
	require.Zero(t, topLevel(f)["WsrInline"])
	require.Equal(t, 1, topLevel(f)["WsrReset"])
}

func TestGenerateFunctionsAndVars(t *testing.T) {
	f, out := generate(t, layoutHeader, Options{})
	require.Equal(t, []string{"WsrTrace: variadic functions cannot be called through cgo"}, out.Skipped)
	require.Zero(t, topLevel(f)["WsrTrace"])

	cb := funcDecl(t, f, "WsrCallback")
	require.Equal(t, "*[0]byte", types.ExprString(cb.Type.Params.List[0].Type))
	require.Equal(t, "*int8", types.ExprString(cb.Type.Params.List[1].Type))
	require.Contains(t, string(out.Source), "C.WsrCallback(*(**[0]byte)(unsafe.Pointer(&Fn)), *(**C.char)(unsafe.Pointer(&Name)))")

	counters := funcDecl(t, f, "WsrCounters")
	require.Equal(t, "*[4]ULONG", types.ExprString(counters.Type.Results.List[0].Type))
	require.Contains(t, string(out.Source), "(*[4]ULONG)(unsafe.Pointer(&C.WsrCounters))")
}

func TestGenerateNoUnsafe(t *testing.T) {
	_, out := generate(t, "#define WSR_VERSION 3\nvoid WsrReset(void);\n", Options{})
	require.NotContains(t, string(out.Source), `"unsafe"`)
	require.Contains(t, string(out.Source), "func WsrReset() {\n\tC.WsrReset()\n}")
}

func TestGenerateNameClashes(t *testing.T) {
	f, out := generate(t, `
typedef int string;
typedef struct WSR_PAIR { int a; } WSR_PAIR;
#define TRUE 1
BOOL WsrReady(void);
`, Options{})
	require.Equal(t, []string{"string: shadows a predeclared Go identifier"}, out.Skipped)
	names := topLevel(f)
	require.Equal(t, 1, names["WSR_PAIR"])
	require.Equal(t, 1, names["TRUE"])
	require.Zero(t, names["FALSE"])
}

func TestGenerateRejectsArch(t *testing.T) {
	_, err := Generate(&cheader.Header{File: "x.h"}, Options{GOARCH: "arm64"})
	require.Error(t, err)
}

func TestParamNames(t *testing.T) {
	got := paramNames([]cheader.Param{{Name: ""}, {Name: "type"}, {Name: "C"}, {Name: "ret"}, {Name: "Buffer"}})
	require.Equal(t, []string{"p0", "_type", "_C", "_ret", "Buffer"}, got)
}

func TestFileName(t *testing.T) {
	require.Equal(t, "zwinsockraw_windows_386.go", FileName("winsockraw", "386"))
}
