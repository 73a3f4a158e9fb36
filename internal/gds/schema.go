package gds

// Schema names the stored-graph labels, relationship types and property keys
// that projections and direct queries read.
type Schema struct {
	PrimaryLabel       string
	SecondaryLabels    []string
	RelTypes           []string
	KinshipType        string
	OwnershipType      string
	SimilarityType     string
	IDProperty         string
	StartProperty      string
	EndProperty        string
	WeightProperty     string
	ProvenanceProperty string
	ImputedValue       string
	PredictedValue     string
	FirstNameProperty  string
	LastNameProperty   string
	PatronymicProperty string
	OpenStartMs        int64
	OpenEndMs          int64
}

func (s Schema) NodeLabels() []string {
	return append([]string{s.PrimaryLabel}, s.SecondaryLabels...)
}

// Untrusted lists provenance tags whose kinship edges are not ground truth.
func (s Schema) Untrusted() []string {
	var out []string
	for _, v := range []string{s.ImputedValue, s.PredictedValue} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (s Schema) IsUntrusted(provenance string) bool {
	for _, v := range s.Untrusted() {
		if provenance == v {
			return true
		}
	}
	return false
}
