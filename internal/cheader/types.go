package cheader

import (
	"sort"
	"strings"
)

// Basic describes a C arithmetic type under the Windows LLP64 model.
type Basic struct {
	// Go is the Go type with the same size and signedness.
	Go string
	// Cgo is the name cgo gives the type (C.<Cgo>).
	Cgo string
	// Size in bytes; 0 means pointer-sized.
	Size     int
	Unsigned bool
	Float    bool
}

// Spellings of the pointer-sized integers, which have no C keyword.
const (
	IntPtr  = "__intptr"
	UintPtr = "__uintptr"
)

var basics = map[string]Basic{
	"void":               {Go: "", Cgo: "void"},
	"_Bool":              {Go: "bool", Cgo: "_Bool", Size: 1, Unsigned: true},
	"char":               {Go: "int8", Cgo: "char", Size: 1},
	"signed char":        {Go: "int8", Cgo: "schar", Size: 1},
	"unsigned char":      {Go: "uint8", Cgo: "uchar", Size: 1, Unsigned: true},
	"short":              {Go: "int16", Cgo: "short", Size: 2},
	"unsigned short":     {Go: "uint16", Cgo: "ushort", Size: 2, Unsigned: true},
	"int":                {Go: "int32", Cgo: "int", Size: 4},
	"unsigned int":       {Go: "uint32", Cgo: "uint", Size: 4, Unsigned: true},
	"long":               {Go: "int32", Cgo: "long", Size: 4},
	"unsigned long":      {Go: "uint32", Cgo: "ulong", Size: 4, Unsigned: true},
	"long long":          {Go: "int64", Cgo: "longlong", Size: 8},
	"unsigned long long": {Go: "uint64", Cgo: "ulonglong", Size: 8, Unsigned: true},
	"float":              {Go: "float32", Cgo: "float", Size: 4, Float: true},
	"double":             {Go: "float64", Cgo: "double", Size: 8, Float: true},
	IntPtr:               {Go: "int", Cgo: "intptr_t"},
	UintPtr:              {Go: "uintptr", Cgo: "uintptr_t", Unsigned: true},
}

// LookupBasic returns the arithmetic type spelled name.
func LookupBasic(name string) (Basic, bool) {
	b, ok := basics[name]
	return b, ok
}

var typeWords = setOf(
	"void", "char", "short", "int", "long", "float", "double", "signed", "unsigned",
	"_Bool", "bool", "__int8", "__int16", "__int32", "__int64",
)

func setOf(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// normalize turns a multiset of type keywords into the canonical spelling
// used as the basics key.
func normalize(words []string) (string, bool) {
	var (
		unsigned, signed bool
		longs            int
		base             string
	)
	for _, w := range words {
		switch w {
		case "unsigned":
			unsigned = true
		case "signed":
			signed = true
		case "long":
			longs++
		case "int":
			if base == "" {
				base = "int"
			}
		case "bool":
			base = "_Bool"
		case "__int8":
			base = "char"
		case "__int16":
			base = "short"
		case "__int32":
			base = "int"
		case "__int64":
			base, longs = "int", 2
		default:
			if base != "" && base != "int" {
				return "", false
			}
			base = w
		}
	}
	if unsigned && signed {
		return "", false
	}
	switch base {
	case "void", "_Bool", "float":
		if unsigned || signed || longs > 0 {
			return "", false
		}
		return base, true
	case "double":
		// long double is a double under MSVC
		return "double", !unsigned && !signed
	case "char":
		switch {
		case unsigned:
			return "unsigned char", true
		case signed:
			return "signed char", true
		}
		return "char", true
	case "short":
		if longs > 0 {
			return "", false
		}
		if unsigned {
			return "unsigned short", true
		}
		return "short", true
	case "", "int":
		var s string
		switch longs {
		case 0:
			s = "int"
		case 1:
			s = "long"
		case 2:
			s = "long long"
		default:
			return "", false
		}
		if unsigned {
			s = "unsigned " + s
		}
		return s, true
	}
	return "", false
}

// platform holds the Windows SDK typedefs a DLL header commonly uses
// without declaring them.
var platform = map[string]CType{
	"BOOL":      {Name: "int"},
	"BOOLEAN":   {Name: "unsigned char"},
	"BYTE":      {Name: "unsigned char"},
	"UCHAR":     {Name: "unsigned char"},
	"CHAR":      {Name: "char"},
	"CCHAR":     {Name: "char"},
	"wchar_t":   {Name: "unsigned short"},
	"WCHAR":     {Name: "wchar_t"},
	"SHORT":     {Name: "short"},
	"USHORT":    {Name: "unsigned short"},
	"WORD":      {Name: "unsigned short"},
	"INT":       {Name: "int"},
	"UINT":      {Name: "unsigned int"},
	"LONG":      {Name: "long"},
	"ULONG":     {Name: "unsigned long"},
	"DWORD":     {Name: "unsigned long"},
	"FLOAT":     {Name: "float"},
	"LONGLONG":  {Name: "long long"},
	"ULONGLONG": {Name: "unsigned long long"},
	"DWORDLONG": {Name: "unsigned long long"},
	"DWORD64":   {Name: "unsigned long long"},
	"ULONG64":   {Name: "unsigned long long"},
	"UINT64":    {Name: "unsigned long long"},
	"LONG64":    {Name: "long long"},
	"INT64":     {Name: "long long"},
	"INT8":      {Name: "signed char"},
	"UINT8":     {Name: "unsigned char"},
	"INT16":     {Name: "short"},
	"UINT16":    {Name: "unsigned short"},
	"INT32":     {Name: "int"},
	"UINT32":    {Name: "unsigned int"},
	"LONG32":    {Name: "int"},
	"ULONG32":   {Name: "unsigned int"},
	"DWORD32":   {Name: "unsigned int"},
	"HRESULT":   {Name: "long"},
	"NTSTATUS":  {Name: "long"},
	"u_char":    {Name: "unsigned char"},
	"u_short":   {Name: "unsigned short"},
	"u_int":     {Name: "unsigned int"},
	"u_long":    {Name: "unsigned long"},

	"ADDRESS_FAMILY": {Name: "unsigned short"},

	"INT_PTR":   {Name: IntPtr},
	"LONG_PTR":  {Name: IntPtr},
	"SSIZE_T":   {Name: IntPtr},
	"intptr_t":  {Name: IntPtr},
	"ptrdiff_t": {Name: IntPtr},
	"UINT_PTR":  {Name: UintPtr},
	"ULONG_PTR": {Name: UintPtr},
	"DWORD_PTR": {Name: UintPtr},
	"SIZE_T":    {Name: UintPtr},
	"size_t":    {Name: UintPtr},
	"uintptr_t": {Name: UintPtr},
	"SOCKET":    {Name: UintPtr},

	"HANDLE":    {Name: "void", Pointers: 1},
	"PVOID":     {Name: "void", Pointers: 1},
	"LPVOID":    {Name: "void", Pointers: 1},
	"LPCVOID":   {Name: "void", Pointers: 1, Const: true},
	"HMODULE":   {Name: "void", Pointers: 1},
	"HINSTANCE": {Name: "void", Pointers: 1},
	"HKEY":      {Name: "void", Pointers: 1},
	"HWND":      {Name: "void", Pointers: 1},
	"HLOCAL":    {Name: "void", Pointers: 1},

	"PBOOL":      {Name: "BOOL", Pointers: 1},
	"LPBOOL":     {Name: "BOOL", Pointers: 1},
	"PBOOLEAN":   {Name: "BOOLEAN", Pointers: 1},
	"PBYTE":      {Name: "BYTE", Pointers: 1},
	"LPBYTE":     {Name: "BYTE", Pointers: 1},
	"PUCHAR":     {Name: "UCHAR", Pointers: 1},
	"PCHAR":      {Name: "CHAR", Pointers: 1},
	"PSTR":       {Name: "CHAR", Pointers: 1},
	"LPSTR":      {Name: "CHAR", Pointers: 1},
	"PCSTR":      {Name: "CHAR", Pointers: 1, Const: true},
	"LPCSTR":     {Name: "CHAR", Pointers: 1, Const: true},
	"PWCHAR":     {Name: "WCHAR", Pointers: 1},
	"PWSTR":      {Name: "WCHAR", Pointers: 1},
	"LPWSTR":     {Name: "WCHAR", Pointers: 1},
	"PCWSTR":     {Name: "WCHAR", Pointers: 1, Const: true},
	"LPCWSTR":    {Name: "WCHAR", Pointers: 1, Const: true},
	"PSHORT":     {Name: "SHORT", Pointers: 1},
	"PUSHORT":    {Name: "USHORT", Pointers: 1},
	"PWORD":      {Name: "WORD", Pointers: 1},
	"LPWORD":     {Name: "WORD", Pointers: 1},
	"PINT":       {Name: "INT", Pointers: 1},
	"LPINT":      {Name: "INT", Pointers: 1},
	"PUINT":      {Name: "UINT", Pointers: 1},
	"PLONG":      {Name: "LONG", Pointers: 1},
	"LPLONG":     {Name: "LONG", Pointers: 1},
	"PULONG":     {Name: "ULONG", Pointers: 1},
	"PDWORD":     {Name: "DWORD", Pointers: 1},
	"LPDWORD":    {Name: "DWORD", Pointers: 1},
	"PLONGLONG":  {Name: "LONGLONG", Pointers: 1},
	"PULONGLONG": {Name: "ULONGLONG", Pointers: 1},
	"PDWORD64":   {Name: "DWORD64", Pointers: 1},
	"PULONG64":   {Name: "ULONG64", Pointers: 1},
	"PSIZE_T":    {Name: "SIZE_T", Pointers: 1},
	"PULONG_PTR": {Name: "ULONG_PTR", Pointers: 1},
	"PHANDLE":    {Name: "HANDLE", Pointers: 1},
	"LPHANDLE":   {Name: "HANDLE", Pointers: 1},
}

// Macros from the SDK that stand for keywords or expand to nothing.
var (
	keywordMacros = map[string]string{
		"VOID":     "void",
		"CONST":    "const",
		"EXTERN_C": "extern",
	}
	ignoredWords = setOf(
		"__cdecl", "_cdecl", "__stdcall", "_stdcall", "__fastcall", "__thiscall",
		"__vectorcall", "__clrcall", "WINAPI", "WINAPIV", "APIENTRY", "CALLBACK",
		"NTAPI", "PASCAL", "STDAPICALLTYPE", "STDMETHODCALLTYPE",
		"inline", "__inline", "__forceinline", "_inline",
		"volatile", "restrict", "__restrict", "register", "auto",
		"__unaligned", "__ptr32", "__ptr64", "__w64",
		"FAR", "NEAR", "far", "near", "IN", "OUT", "OPTIONAL", "UNALIGNED",
		"DECLSPEC_IMPORT", "DECLSPEC_EXPORT", "DECLSPEC_NORETURN", "DECLSPEC_NOTHROW",
	)
	// attribute keywords followed by a parenthesized argument list
	parenAttrs = setOf(
		"__declspec", "_declspec", "__attribute__", "__pragma", "_Pragma", "DECLSPEC_ALIGN",
	)
)

// PlatformType returns the definition of a Windows SDK type the header
// may use without declaring.
func PlatformType(name string) (CType, bool) {
	t, ok := platform[name]
	return t, ok
}

// PlatformTypes lists the known SDK type names in sorted order.
func PlatformTypes() []string {
	names := make([]string, 0, len(platform))
	for n := range platform {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// isSAL reports whether name is a source annotation: _In_, _Out_opt_,
// _In_reads_bytes_(n), and the older __in / __out_bcount(n) forms.
func isSAL(name string) bool {
	if len(name) > 2 && name[0] == '_' && name[1] >= 'A' && name[1] <= 'Z' && strings.HasSuffix(name, "_") {
		return true
	}
	for _, p := range []string{"__in", "__out", "__inout", "__deref", "__reserved", "__checkReturn", "__success", "__nullterminated"} {
		if name == p || strings.HasPrefix(name, p+"_") {
			return true
		}
	}
	return false
}
