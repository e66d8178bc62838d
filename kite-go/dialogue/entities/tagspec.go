// Package entities describes the entity tags the dialogue policy predicts over user
// text, and turns predicted tag sequences back into character spans.
package entities

import (
	"sort"

	"github.com/kiteco/dialogue/kite-golib/errors"
)

// NoEntity is the tag of tokens outside any entity; it always has id 0.
const NoEntity = "O"

// EntityCategory is the tag category of entity types.
const EntityCategory = "entity"

// TagSpec is the bijection between the tags of one category and their ids. It is built
// once at training start and never mutated.
type TagSpec struct {
	TagName   string         `json:"tag_name"`
	IDsToTags map[int]string `json:"ids_to_tags"`
	TagsToIDs map[string]int `json:"tags_to_ids"`
	NumTags   int            `json:"num_tags"`
}

// NewTagSpec assigns id 0 to NoEntity and ids 1..n to the other tags in sorted order.
func NewTagSpec(name string, tags []string) *TagSpec {
	var rest []string
	seen := map[string]bool{NoEntity: true}
	for _, tag := range tags {
		if !seen[tag] {
			seen[tag] = true
			rest = append(rest, tag)
		}
	}
	sort.Strings(rest)
	spec := &TagSpec{
		TagName:   name,
		IDsToTags: map[int]string{0: NoEntity},
		TagsToIDs: map[string]int{NoEntity: 0},
	}
	for i, tag := range rest {
		spec.IDsToTags[i+1] = tag
		spec.TagsToIDs[tag] = i + 1
	}
	spec.NumTags = len(spec.IDsToTags)
	return spec
}

// Validate checks that the two maps are inverse to each other and cover 0..NumTags-1.
func (s *TagSpec) Validate() error {
	if len(s.IDsToTags) != s.NumTags || len(s.TagsToIDs) != s.NumTags {
		return errors.Configf("tag spec %s: %d ids and %d tags for %d tags",
			s.TagName, len(s.IDsToTags), len(s.TagsToIDs), s.NumTags)
	}
	for id := 0; id < s.NumTags; id++ {
		tag, ok := s.IDsToTags[id]
		if !ok {
			return errors.Configf("tag spec %s: missing id %d", s.TagName, id)
		}
		if s.TagsToIDs[tag] != id {
			return errors.Configf("tag spec %s: tag %q maps to %d, not %d", s.TagName, tag, s.TagsToIDs[tag], id)
		}
	}
	return nil
}

// Tag returns the tag of id, NoEntity for unknown ids.
func (s *TagSpec) Tag(id int) string {
	if tag, ok := s.IDsToTags[id]; ok {
		return tag
	}
	return NoEntity
}

// ID returns the id of tag, 0 for unknown tags.
func (s *TagSpec) ID(tag string) int {
	return s.TagsToIDs[tag]
}

// Tags maps a sequence of ids to tags.
func (s *TagSpec) Tags(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = s.Tag(id)
	}
	return out
}

// HasRealTags reports whether any tag of any text instance is an entity. Without one,
// an entity tagger has nothing to learn.
func HasRealTags(tags [][]int) bool {
	for _, instance := range tags {
		for _, id := range instance {
			if id != 0 {
				return true
			}
		}
	}
	return false
}
