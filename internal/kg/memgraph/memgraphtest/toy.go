// Package memgraphtest builds small stored graphs for tests.
package memgraphtest

import (
	"time"

	"github.com/ownership-graph/rollwin/internal/gds"
	"github.com/ownership-graph/rollwin/internal/kg/memgraph"
	"github.com/ownership-graph/rollwin/internal/window"
)

func Schema() gds.Schema {
	return gds.Schema{
		PrimaryLabel:       "Bank",
		SecondaryLabels:    []string{"Company", "Person"},
		RelTypes:           []string{"OWNERSHIP", "MANAGEMENT", "FAMILY"},
		KinshipType:        "FAMILY",
		OwnershipType:      "OWNERSHIP",
		SimilarityType:     "SIM_NAME",
		IDProperty:         "Id",
		StartProperty:      "tStart",
		EndProperty:        "tEnd",
		WeightProperty:     "weight",
		ProvenanceProperty: "source",
		ImputedValue:       "imputed",
		PredictedValue:     "logistic_pred",
		FirstNameProperty:  "FirstName",
		LastNameProperty:   "LastName",
		PatronymicProperty: "MiddleName",
		OpenStartMs:        window.OpenStartMs,
		OpenEndMs:          window.OpenEndMs,
	}
}

func Year(y int) *int64 {
	return memgraph.Ms(time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
}

// Toy ids.
const (
	BankA      int64 = 1
	BankB      int64 = 2
	IvanIvanov int64 = 3
	MariaIvan  int64 = 4
	SergeyIvan int64 = 5
	OlegPetrov int64 = 6
	CompanyX   int64 = 7
	CompanyY   int64 = 8
	OldSidorov int64 = 9
	AnnaPetrov int64 = 10
)

// Toy is ten entities, two of them primary, with three kinship edges of
// which one is imputed. Viewed through the window [2014, 2017) with imputed
// kinship excluded, AnnaPetrov is isolated and OldSidorov is inactive.
func Toy() ([]memgraph.NodeRow, []memgraph.RelRow) {
	person := func(id int64, first, last, patronymic string) memgraph.NodeRow {
		return memgraph.NodeRow{ID: id, Labels: "Person", FirstName: first, LastName: last, Patronymic: patronymic}
	}
	nodes := []memgraph.NodeRow{
		{ID: BankA, Labels: "Bank", StartMs: Year(1995)},
		{ID: BankB, Labels: "Bank", StartMs: Year(1998), EndMs: Year(2019)},
		person(IvanIvanov, "ИВАН", "ИВАНОВ", "ПЕТРОВИЧ"),
		person(MariaIvan, "МАРИЯ", "ИВАНОВА", "ПЕТРОВНА"),
		person(SergeyIvan, "СЕРГЕЙ", "ИВАНОВ", "ПЕТРОВИЧ"),
		person(OlegPetrov, "ОЛЕГ", "ПЕТРОВ", "ИВАНОВИЧ"),
		{ID: CompanyX, Labels: "Company", StartMs: Year(2005)},
		{ID: CompanyY, Labels: "Company", StartMs: Year(2010)},
		{ID: OldSidorov, Labels: "Person", StartMs: Year(2000), EndMs: Year(2005), FirstName: "ПАВЕЛ", LastName: "СИДОРОВ"},
		person(AnnaPetrov, "АННА", "ПЕТРОВА", "ОЛЕГОВНА"),
	}

	active := func(src, tgt int64, typ, source string) memgraph.RelRow {
		return memgraph.RelRow{Source: src, Target: tgt, Type: typ, StartMs: Year(2010), EndMs: Year(2020), Provenance: source}
	}
	rels := []memgraph.RelRow{
		active(IvanIvanov, BankA, "OWNERSHIP", ""),
		active(MariaIvan, BankA, "OWNERSHIP", ""),
		active(CompanyX, BankA, "OWNERSHIP", ""),
		active(OlegPetrov, BankB, "OWNERSHIP", ""),
		active(CompanyY, BankB, "OWNERSHIP", ""),
		active(SergeyIvan, CompanyX, "MANAGEMENT", ""),
		active(IvanIvanov, MariaIvan, "FAMILY", "registry"),
		active(IvanIvanov, SergeyIvan, "FAMILY", "registry"),
		active(OlegPetrov, AnnaPetrov, "FAMILY", "imputed"),
		{Source: OldSidorov, Target: BankB, Type: "OWNERSHIP", StartMs: Year(2000), EndMs: Year(2005)},
	}
	return nodes, rels
}

func ToyEngine() *memgraph.Engine {
	nodes, rels := Toy()
	return memgraph.New(Schema(), nodes, rels)
}
