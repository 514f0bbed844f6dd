//go:build windows

// Package pdh wraps the small subset of the Windows Performance Data
// Helper API (pdh.dll) needed to expand wildcard counter paths and read
// formatted counter values.
package pdh

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Formatted value types for GetFormattedCounterValue.
const (
	FmtDouble uint32 = 0x00000200
)

// PDH status codes. The full list lives in pdhmsg.h; these are the ones
// the sampler distinguishes.
const (
	CstatusValidData    Errno = 0x00000000
	CstatusNewData      Errno = 0x00000001
	MoreData            Errno = 0x800007D2
	CstatusNoMachine    Errno = 0x800007D0
	CalcNegativeValue   Errno = 0x800007D8
	CstatusNoObject     Errno = 0xC0000BB8
	CstatusNoCounter    Errno = 0xC0000BC0
	CstatusInvalidData  Errno = 0xC0000BBA
	InvalidData         Errno = 0xC0000BC6
	NoData              Errno = 0x800007D5
	CstatusItemNotValid Errno = 0xC0000BC9
)

// Errno is a PDH status code returned by the API.
type Errno uint32

func (e Errno) Error() string {
	return fmt.Sprintf("pdh status 0x%08X", uint32(e))
}

// IsObjectMissing reports whether the status means the counter object
// itself does not exist on this host (as opposed to a bad path).
func (e Errno) IsObjectMissing() bool {
	return e == CstatusNoObject || e == CstatusNoMachine
}

var (
	pdhDll = syscall.MustLoadDLL("pdh.dll")

	procOpenQuery                = pdhDll.MustFindProc("PdhOpenQueryW")
	procCloseQuery               = pdhDll.MustFindProc("PdhCloseQuery")
	procExpandWildCardPath       = pdhDll.MustFindProc("PdhExpandWildCardPathW")
	procAddEnglishCounter        = pdhDll.MustFindProc("PdhAddEnglishCounterW")
	procCollectQueryData         = pdhDll.MustFindProc("PdhCollectQueryData")
	procGetFormattedCounterValue = pdhDll.MustFindProc("PdhGetFormattedCounterValue")
	procRemoveCounter            = pdhDll.MustFindProc("PdhRemoveCounter")
)

// Query is an open PDH query handle.
type Query uintptr

// Counter is a counter handle attached to a query.
type Counter uintptr

// fmtCounterValueDouble mirrors PDH_FMT_COUNTERVALUE with the doubleValue
// arm of the union. The uint32 padding keeps the 8-byte alignment the C
// layout has on amd64/arm64.
type fmtCounterValueDouble struct {
	CStatus     uint32
	_           uint32
	DoubleValue float64
}

// OpenQuery creates a new PDH query against the local machine.
func OpenQuery() (Query, error) {
	var handle uintptr
	ret, _, _ := procOpenQuery.Call(0, 0, uintptr(unsafe.Pointer(&handle)))
	if ret != 0 {
		return 0, Errno(ret)
	}
	return Query(handle), nil
}

// Close releases the query and every counter attached to it.
func (q Query) Close() error {
	ret, _, _ := procCloseQuery.Call(uintptr(q))
	if ret != 0 {
		return Errno(ret)
	}
	return nil
}

// AddEnglishCounter attaches a counter by its English path, independent of
// the OS display language. Returns the counter handle.
func (q Query) AddEnglishCounter(path string) (Counter, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, fmt.Errorf("invalid counter path %q: %w", path, err)
	}

	var handle uintptr
	ret, _, _ := procAddEnglishCounter.Call(
		uintptr(q),
		uintptr(unsafe.Pointer(pathPtr)),
		0,
		uintptr(unsafe.Pointer(&handle)),
	)
	if ret != 0 {
		return 0, Errno(ret)
	}
	return Counter(handle), nil
}

// Collect gathers a sample for every counter in the query. Rate counters
// need two collections before a formatted value is defined.
func (q Query) Collect() error {
	ret, _, _ := procCollectQueryData.Call(uintptr(q))
	if ret != 0 {
		return Errno(ret)
	}
	return nil
}

// FormattedDouble returns the counter value as float64 from the most
// recent pair of collections.
func (c Counter) FormattedDouble() (float64, error) {
	var value fmtCounterValueDouble
	ret, _, _ := procGetFormattedCounterValue.Call(
		uintptr(c),
		uintptr(FmtDouble),
		0, // counter type not needed
		uintptr(unsafe.Pointer(&value)),
	)
	if ret != 0 {
		return 0, Errno(ret)
	}
	if Errno(value.CStatus) != CstatusValidData && Errno(value.CStatus) != CstatusNewData {
		return 0, Errno(value.CStatus)
	}
	return value.DoubleValue, nil
}

// Remove detaches the counter from its query.
func (c Counter) Remove() error {
	ret, _, _ := procRemoveCounter.Call(uintptr(c))
	if ret != 0 {
		return Errno(ret)
	}
	return nil
}

// ExpandWildcardPath expands a wildcard counter path (instance or counter
// wildcards) into the list of concrete paths currently present on the
// host. Returns an empty slice when the pattern matches nothing.
func ExpandWildcardPath(pattern string) ([]string, error) {
	patternPtr, err := windows.UTF16PtrFromString(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid counter pattern %q: %w", pattern, err)
	}

	// First call sizes the multi-sz buffer, second fills it. The needed
	// length can grow between calls if instances appear, so loop on
	// MORE_DATA.
	var length uint32
	buf := make([]uint16, 0)
	for {
		var bufPtr *uint16
		if length > 0 {
			buf = make([]uint16, length)
			bufPtr = &buf[0]
		}
		ret, _, _ := procExpandWildCardPath.Call(
			0, // local machine
			uintptr(unsafe.Pointer(patternPtr)),
			uintptr(unsafe.Pointer(bufPtr)),
			uintptr(unsafe.Pointer(&length)),
			0,
		)
		if Errno(ret) == MoreData {
			continue
		}
		if ret != 0 {
			return nil, Errno(ret)
		}
		break
	}

	return splitMultiSz(buf), nil
}

// splitMultiSz converts a double-null-terminated UTF-16 string list into
// Go strings.
func splitMultiSz(buf []uint16) []string {
	var paths []string
	start := 0
	for i, ch := range buf {
		if ch != 0 {
			continue
		}
		if i == start {
			break // empty string terminates the list
		}
		paths = append(paths, windows.UTF16ToString(buf[start:i]))
		start = i + 1
	}
	return paths
}
