// Package image serializes compiled programs.
//
// An image holds the optimized instruction sequence of one source file so a
// later run can skip lexing and optimization. Images are encoded as canonical
// CBOR, which makes the encoding of a given program deterministic.
package image

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/bfjit/pkg/instr"
	"github.com/chazu/bfjit/pkg/jumps"
)

// Magic identifies an image.
const Magic = "BFJI"

// Version is the current image format version.
// Increment when making incompatible changes to the format.
const Version uint16 = 1

// Extension is the conventional file extension for images.
const Extension = ".bfi"

var (
	ErrBadMagic    = errors.New("not a program image")
	ErrBadVersion  = errors.New("unsupported image version")
	ErrBadProgram  = errors.New("image holds an invalid program")
	ErrHashMissing = errors.New("image has no source hash")
)

// Hash is the SHA-256 of a program's source bytes.
type Hash [32]byte

// String returns the lowercase hex form used as a cache key.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// HashSource hashes raw source bytes, comments included.
func HashSource(src []byte) Hash {
	return sha256.Sum256(src)
}

// Image is a serialized program.
type Image struct {
	Magic      string           `cbor:"1,keyasint"`
	Version    uint16           `cbor:"2,keyasint"`
	SourceHash Hash             `cbor:"3,keyasint"`
	Optimized  bool             `cbor:"4,keyasint,omitempty"`
	Program    []instr.Extended `cbor:"5,keyasint"`
}

// New creates an image for program compiled from the source with hash h.
func New(h Hash, program []instr.Extended, optimized bool) *Image {
	return &Image{
		Magic:      Magic,
		Version:    Version,
		SourceHash: h,
		Optimized:  optimized,
		Program:    program,
	}
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Marshal encodes img.
func Marshal(img *Image) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return encMode.Marshal(img)
}

// Unmarshal decodes and validates an image.
func Unmarshal(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return &img, nil
}

// Validate checks the header, every instruction and the bracket structure.
func (img *Image) Validate() error {
	if img.Magic != Magic {
		return ErrBadMagic
	}
	if img.Version != Version {
		return fmt.Errorf("%w: %d", ErrBadVersion, img.Version)
	}
	if img.SourceHash == (Hash{}) {
		return ErrHashMissing
	}
	for pc, e := range img.Program {
		if !e.Valid() {
			return fmt.Errorf("%w: %v at %d", ErrBadProgram, e, pc)
		}
	}
	if _, err := jumps.Resolve(img.Program); err != nil {
		return fmt.Errorf("%w: %w", ErrBadProgram, err)
	}
	return nil
}
