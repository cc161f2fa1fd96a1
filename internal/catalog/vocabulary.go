package catalog

import "fmt"

// Vocabulary enumerates the catalog tables holding shared, named
// entities that media records reference.
type Vocabulary int

const (
	Size Vocabulary = iota
	Rights
	Sublocation
	City
	State
	Country
	Author
	Source
	Taxon
	Tag
	Reference
)

// SingleVocabularies are referenced by a foreign key column on the media
// record; the remainder are many-to-many.
var (
	SingleVocabularies = []Vocabulary{Size, Rights, Sublocation, City, State, Country}
	ManyVocabularies   = []Vocabulary{Author, Source, Taxon, Tag, Reference}
)

func (v Vocabulary) Table() string {
	switch v {
	case Size:
		return "size"
	case Rights:
		return "rights"
	case Sublocation:
		return "sublocation"
	case City:
		return "city"
	case State:
		return "state"
	case Country:
		return "country"
	case Author:
		return "author"
	case Source:
		return "source"
	case Taxon:
		return "taxon"
	case Tag:
		return "tag"
	case Reference:
		return "reference"
	}

	panic(fmt.Sprintf("unknown vocabulary %d", int(v)))
}

func (v Vocabulary) String() string { return v.Table() }

// IsSingle reports whether a record holds at most one reference to v.
func (v Vocabulary) IsSingle() bool {
	return v <= Country
}

// Column is the foreign key column on the media table for single
// vocabularies.
func (v Vocabulary) Column() string {
	if !v.IsSingle() {
		panic(fmt.Sprintf("vocabulary %s is many-to-many and has no column", v))
	}

	return v.Table() + "_id"
}

func (v Vocabulary) junctionTable() string  { return "media_" + v.Table() }
func (v Vocabulary) junctionColumn() string { return v.Table() + "_id" }
