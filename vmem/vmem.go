// Package vmem implements the bounded, permission-aware virtual address space
// that the harness and every engine plugged into it access guest memory through.
//
// An AddressSpace covers the half-open range [Start, End) with one contiguous
// zero-filled buffer. Translation is backing[addr-Start]; anything outside the
// range, or denied by the optional page table, is reported as an *AccessError
// and never touches the buffer.
package vmem

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/zeebo/blake3"
	"golang.org/x/sys/unix"
)

// Errors.
var (
	ErrOutOfRange       = errors.New("address out of range")
	ErrPermissionDenied = errors.New("permission denied")
	ErrClosed           = errors.New("address space closed")
)

const addressLimit = uint64(1) << 32

// Intent is the kind of access a translation is performed for.
type Intent uint8

const (
	Read Intent = iota
	Write
)

func (i Intent) String() string {
	if i == Write {
		return "write"
	}
	return "read"
}

// FaultKind classifies a failed translation.
type FaultKind uint8

const (
	OutOfRange FaultKind = iota + 1
	PermissionDenied
)

func (k FaultKind) String() string {
	switch k {
	case OutOfRange:
		return "out of range"
	case PermissionDenied:
		return "permission denied"
	default:
		return "unknown"
	}
}

// AccessError describes a rejected translation.
type AccessError struct {
	Kind   FaultKind
	Addr   uint32
	Size   uint32
	Intent Intent
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%v: %s of %d bytes at 0x%x", e.Unwrap(), e.Intent, e.Size, e.Addr)
}

func (e *AccessError) Unwrap() error {
	if e.Kind == PermissionDenied {
		return ErrPermissionDenied
	}
	return ErrOutOfRange
}

// PageEntry is one page of the address space.
type PageEntry struct {
	Backing  []byte
	CanRead  bool
	CanWrite bool
}

type options struct {
	pageSize uint32
}

// Option configures New.
type Option func(*options)

// WithPageSize splits the arena into pages of n bytes, each initially
// readable and writable. n must be a power of two that divides both the
// start address and the size.
func WithPageSize(n uint32) Option {
	return func(o *options) {
		o.pageSize = n
	}
}

// AddressSpace is a fixed arena. It is not safe for concurrent use.
type AddressSpace struct {
	start   uint64
	end     uint64
	backing []byte

	pages     []PageEntry
	pageShift uint
}

// New maps a zero-filled arena covering [start, start+size).
func New(start, size uint32, opts ...Option) (*AddressSpace, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if size == 0 {
		return nil, fmt.Errorf("address space at 0x%x: size must be non-zero", start)
	}
	if uint64(start)+uint64(size) > addressLimit {
		return nil, fmt.Errorf(
			"address space 0x%x+0x%x: exceeds 32-bit address range", start, size,
		)
	}
	if o.pageSize != 0 {
		if o.pageSize&(o.pageSize-1) != 0 {
			return nil, fmt.Errorf("page size 0x%x: must be a power of two", o.pageSize)
		}
		if start%o.pageSize != 0 || size%o.pageSize != 0 {
			return nil, fmt.Errorf(
				"page size 0x%x: does not divide range 0x%x+0x%x",
				o.pageSize, start, size,
			)
		}
	}

	buf, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("map arena of 0x%x bytes: %w", size, err)
	}

	s := &AddressSpace{
		start:   uint64(start),
		end:     uint64(start) + uint64(size),
		backing: buf,
	}

	if o.pageSize != 0 {
		n := size / o.pageSize
		s.pageShift = uint(bits.TrailingZeros32(o.pageSize))
		s.pages = make([]PageEntry, n)
		for i := range s.pages {
			off := uint32(i) * o.pageSize
			s.pages[i] = PageEntry{
				Backing:  buf[off : off+o.pageSize : off+o.pageSize],
				CanRead:  true,
				CanWrite: true,
			}
		}
	}

	return s, nil
}

// Start returns the first valid address.
func (s *AddressSpace) Start() uint32 { return uint32(s.start) }

// End returns the first address past the arena. It is returned as uint64
// because an arena may end exactly at 1<<32.
func (s *AddressSpace) End() uint64 { return s.end }

// Size returns the arena size in bytes.
func (s *AddressSpace) Size() uint32 { return uint32(s.end - s.start) }

// Contains reports whether addr lies inside [Start, End).
func (s *AddressSpace) Contains(addr uint32) bool {
	a := uint64(addr)
	return a >= s.start && a < s.end
}

// PageSize returns the page size, or 0 when the space is flat.
func (s *AddressSpace) PageSize() uint32 {
	if s.pages == nil {
		return 0
	}
	return 1 << s.pageShift
}

// Pages returns the page table; nil for a flat space.
func (s *AddressSpace) Pages() []PageEntry { return s.pages }

// Page returns the entry covering addr.
func (s *AddressSpace) Page(addr uint32) (PageEntry, bool) {
	if s.pages == nil || !s.Contains(addr) {
		return PageEntry{}, false
	}
	return s.pages[(uint64(addr)-s.start)>>s.pageShift], true
}

// Protect sets the permissions of every page in [addr, addr+size). It is a
// setup-time operation; the range must be page aligned.
func (s *AddressSpace) Protect(addr, size uint32, canRead, canWrite bool) error {
	if s.pages == nil {
		return fmt.Errorf("protect 0x%x: address space has no page table", addr)
	}

	mask := uint32(1)<<s.pageShift - 1
	if addr&mask != 0 || size&mask != 0 {
		return fmt.Errorf("protect 0x%x+0x%x: range is not page aligned", addr, size)
	}

	lo, hi := uint64(addr), uint64(addr)+uint64(size)
	if lo < s.start || hi > s.end {
		return &AccessError{Kind: OutOfRange, Addr: addr, Size: size, Intent: Write}
	}

	for i := (lo - s.start) >> s.pageShift; i < (hi-s.start)>>s.pageShift; i++ {
		s.pages[i].CanRead = canRead
		s.pages[i].CanWrite = canWrite
	}

	return nil
}

// Translate returns the backing bytes for [addr, addr+size). Range
// membership is checked first, then the permission of every page touched.
func (s *AddressSpace) Translate(addr, size uint32, intent Intent) ([]byte, error) {
	if s.backing == nil {
		return nil, ErrClosed
	}

	lo := uint64(addr)
	hi := lo + uint64(size)
	if lo < s.start || lo >= s.end || hi > s.end {
		return nil, &AccessError{Kind: OutOfRange, Addr: addr, Size: size, Intent: intent}
	}

	if s.pages != nil && size > 0 {
		for i := (lo - s.start) >> s.pageShift; i <= (hi-1-s.start)>>s.pageShift; i++ {
			p := &s.pages[i]
			if (intent == Read && !p.CanRead) || (intent == Write && !p.CanWrite) {
				return nil, &AccessError{
					Kind: PermissionDenied, Addr: addr, Size: size, Intent: intent,
				}
			}
		}
	}

	off := lo - s.start
	return s.backing[off : off+uint64(size) : off+uint64(size)], nil
}

// Read8 reads a byte.
func (s *AddressSpace) Read8(addr uint32) (uint8, error) {
	mem, err := s.Translate(addr, 1, Read)
	if err != nil {
		return 0, err
	}
	return mem[0], nil
}

// Write8 writes a byte.
func (s *AddressSpace) Write8(addr uint32, x uint8) error {
	mem, err := s.Translate(addr, 1, Write)
	if err != nil {
		return err
	}
	mem[0] = x
	return nil
}

// Read32 reads a little-endian 32-bit word.
func (s *AddressSpace) Read32(addr uint32) (uint32, error) {
	mem, err := s.Translate(addr, 4, Read)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(mem), nil
}

// Write32 writes a little-endian 32-bit word.
func (s *AddressSpace) Write32(addr uint32, x uint32) error {
	mem, err := s.Translate(addr, 4, Write)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(mem, x)
	return nil
}

// ReadBytes copies len(p) bytes starting at addr into p.
func (s *AddressSpace) ReadBytes(addr uint32, p []byte) error {
	if uint64(len(p)) > math.MaxUint32 {
		return &AccessError{Kind: OutOfRange, Addr: addr, Size: math.MaxUint32, Intent: Read}
	}
	mem, err := s.Translate(addr, uint32(len(p)), Read)
	if err != nil {
		return err
	}
	copy(p, mem)
	return nil
}

// WriteBytes copies p into the arena starting at addr.
func (s *AddressSpace) WriteBytes(addr uint32, p []byte) error {
	if uint64(len(p)) > math.MaxUint32 {
		return &AccessError{Kind: OutOfRange, Addr: addr, Size: math.MaxUint32, Intent: Write}
	}
	mem, err := s.Translate(addr, uint32(len(p)), Write)
	if err != nil {
		return err
	}
	copy(mem, p)
	return nil
}

// Bytes returns the whole arena. It exists for engines that map the arena
// into an emulator of their own; everything else goes through Translate.
func (s *AddressSpace) Bytes() []byte { return s.backing }

// Digest returns the hex blake3 hash of the arena contents.
func (s *AddressSpace) Digest() string {
	sum := blake3.Sum256(s.backing)
	return hex.EncodeToString(sum[:])
}

// Close releases the arena. Further translations fail with ErrClosed.
func (s *AddressSpace) Close() error {
	if s.backing == nil {
		return nil
	}

	buf := s.backing
	s.backing = nil
	s.pages = nil

	if err := unix.Munmap(buf); err != nil {
		return fmt.Errorf("unmap arena: %w", err)
	}
	return nil
}
