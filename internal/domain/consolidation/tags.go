package consolidation

import (
	"strings"
)

// Tag is one of the fixed markers this context writes onto orders
type Tag string

const (
	// TagHold marks an order that is accumulating, fulfillment withheld
	TagHold Tag = "HOLD"
	// TagExpressNow marks an order that chose express shipping
	TagExpressNow Tag = "EXPRESS_NOW"
	// TagMergeInProgress marks an express order whose merge has started but not closed
	TagMergeInProgress Tag = "MERGE_IN_PROGRESS"
	// TagMergeDone marks an order whose merge has completed (terminal)
	TagMergeDone Tag = "MERGE_DONE"
)

// String returns the string representation of Tag
func (t Tag) String() string {
	return string(t)
}

// tagSeparator is what the platform writes between tags
const tagSeparator = ", "

// TagSet is an ordered, de-duplicated collection of tags.
// Order is first-seen order and only matters for stable serialization;
// equality and membership are set semantics.
type TagSet struct {
	order []string
	index map[string]struct{}
}

// NewTagSet builds a TagSet from individual tag values
func NewTagSet(tags ...string) TagSet {
	s := TagSet{index: make(map[string]struct{}, len(tags))}
	for _, t := range tags {
		s.add(t)
	}
	return s
}

// ParseTags parses the platform's comma-separated tag text.
// Entries are trimmed, empty entries dropped, duplicates collapsed.
// It never fails.
func ParseTags(text string) TagSet {
	return NewTagSet(strings.Split(text, ",")...)
}

func (s *TagSet) add(tag string) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return
	}
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[tag]; ok {
		return
	}
	s.index[tag] = struct{}{}
	s.order = append(s.order, tag)
}

// Has reports whether the tag is present
func (s TagSet) Has(tag Tag) bool {
	_, ok := s.index[string(tag)]
	return ok
}

// HasAny reports whether any of the tags is present
func (s TagSet) HasAny(tags ...Tag) bool {
	for _, t := range tags {
		if s.Has(t) {
			return true
		}
	}
	return false
}

// Len returns the number of distinct tags
func (s TagSet) Len() int {
	return len(s.order)
}

// Values returns the tags in serialization order
func (s TagSet) Values() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// With returns a copy of the set with the given tags added
func (s TagSet) With(tags ...Tag) TagSet {
	out := NewTagSet(s.order...)
	for _, t := range tags {
		out.add(string(t))
	}
	return out
}

// Without returns a copy of the set with the given tags removed
func (s TagSet) Without(tags ...Tag) TagSet {
	drop := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		drop[strings.TrimSpace(string(t))] = struct{}{}
	}
	out := NewTagSet()
	for _, v := range s.order {
		if _, ok := drop[v]; !ok {
			out.add(v)
		}
	}
	return out
}

// Equal reports whether both sets hold the same tags, ignoring order
func (s TagSet) Equal(other TagSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for _, v := range s.order {
		if _, ok := other.index[v]; !ok {
			return false
		}
	}
	return true
}

// String serializes the set as comma-joined tag text
func (s TagSet) String() string {
	return strings.Join(s.order, tagSeparator)
}

// AddTags returns the tag text with the tags added
func AddTags(text string, tags ...Tag) string {
	return ParseTags(text).With(tags...).String()
}

// RemoveTags returns the tag text with the tags removed
func RemoveTags(text string, tags ...Tag) string {
	return ParseTags(text).Without(tags...).String()
}

// HasTag reports whether the tag text contains the tag
func HasTag(text string, tag Tag) bool {
	return ParseTags(text).Has(tag)
}
