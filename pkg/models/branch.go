package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MainBranch is the branch every instance starts on.
const MainBranch = "main"

var ErrInvalidBranchID = errors.New("invalid branch id")

// BranchID identifies a parallel path. Children of a fork share Base (the parent branch) and
// ForkToken and differ by Index. Its wire form is `{base}-{index}_{token}`, or `main` for the
// root branch.
type BranchID struct {
	Base      string
	Index     int
	ForkToken string
}

// RootBranch returns the main branch.
func RootBranch() BranchID {
	return BranchID{Base: MainBranch, Index: -1}
}

// ChildBranch returns the index-th child of parent for the given fork.
func ChildBranch(parent BranchID, index int, forkToken string) BranchID {
	return BranchID{Base: parent.String(), Index: index, ForkToken: forkToken}
}

// NewForkToken returns the token shared by every child of a single fork.
func NewForkToken(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10)
}

// ParseBranchID parses the wire form of a branch id. The last `-` separates the base from the
// `{index}_{token}` segment, so nested branches keep their whole ancestry in the base.
func ParseBranchID(s string) (BranchID, error) {
	if s == MainBranch {
		return RootBranch(), nil
	}

	sep := strings.LastIndex(s, "-")
	if sep <= 0 || sep == len(s)-1 {
		return BranchID{}, fmt.Errorf("%w: %q", ErrInvalidBranchID, s)
	}

	base, segment := s[:sep], s[sep+1:]
	if base != MainBranch {
		if _, err := ParseBranchID(base); err != nil {
			return BranchID{}, fmt.Errorf("%w: %q", ErrInvalidBranchID, s)
		}
	}

	indexPart, token, ok := strings.Cut(segment, "_")
	if !ok || token == "" {
		return BranchID{}, fmt.Errorf("%w: %q", ErrInvalidBranchID, s)
	}

	index, err := strconv.Atoi(indexPart)
	if err != nil || index < 0 {
		return BranchID{}, fmt.Errorf("%w: %q", ErrInvalidBranchID, s)
	}

	return BranchID{Base: base, Index: index, ForkToken: token}, nil
}

// IsRoot reports whether b is the main branch.
func (b BranchID) IsRoot() bool {
	return b.ForkToken == "" && b.Base == MainBranch
}

func (b BranchID) String() string {
	if b.IsRoot() {
		return MainBranch
	}

	return fmt.Sprintf("%s-%d_%s", b.Base, b.Index, b.ForkToken)
}

// Parent returns the branch the fork that created b was taken from.
func (b BranchID) Parent() (BranchID, error) {
	if b.IsRoot() {
		return b, nil
	}

	return ParseBranchID(b.Base)
}

// SiblingOf reports whether b and other were created by the same fork. A branch is not its own
// sibling.
func (b BranchID) SiblingOf(other BranchID) bool {
	if b.IsRoot() || other.IsRoot() {
		return false
	}

	return b.ForkToken == other.ForkToken && b.Base == other.Base && b.Index != other.Index
}
