package index

// Field identifies one of the indexed document fields.
type Field int

const (
	FieldTitle Field = iota
	FieldAuthor
	FieldSection
	FieldText
	NumFields
)

func (f Field) String() string {
	switch f {
	case FieldTitle:
		return "titulo"
	case FieldAuthor:
		return "autor"
	case FieldSection:
		return "seccion"
	case FieldText:
		return "texto"
	default:
		return "unknown"
	}
}

// Boosts weights term frequency per field.
type Boosts [NumFields]float64

// DefaultBoosts ranks a match in the title above author, section and body.
var DefaultBoosts = Boosts{
	FieldTitle:   10,
	FieldAuthor:  8,
	FieldSection: 6,
	FieldText:    1,
}

// Posting records how often a term occurs in each field of one document.
// Doc is the document's ordinal inside the Index that produced it.
type Posting struct {
	Doc  int
	Freq [NumFields]int
}

// Weighted returns the boosted term frequency of the posting.
func (p Posting) Weighted(b Boosts) float64 {
	var total float64
	for f := Field(0); f < NumFields; f++ {
		total += float64(p.Freq[f]) * b[f]
	}
	return total
}

// PostingList is sorted by Doc ascending.
type PostingList []Posting
