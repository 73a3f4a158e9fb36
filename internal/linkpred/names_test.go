package linkpred

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ownership-graph/rollwin/internal/gds"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "СЕМЕНОВ", Normalize("  Семёнов "))
	assert.Equal(t, "РИМСКИЙ-КОРСАКОВ", Normalize("Римский-Корсаков"))
	assert.Equal(t, "ИВАН ПЕТРОВИЧ", Normalize("иван\t  петрович1."))
	assert.Empty(t, Normalize("  42 "))
}

func TestBlockingKey(t *testing.T) {
	assert.Equal(t, "ИВА", BlockingKey("Иванова", 3))
	assert.Equal(t, "ЛИ", BlockingKey("Ли", 3))
	assert.Equal(t, "ИВАНОВ", BlockingKey("Иванов", 0))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Петров", "ПЕТРОВ"))
	assert.InDelta(t, 1-1.0/7, Similarity("ПЕТРОВА", "ПЕТРОВ"), 1e-12)
	assert.Zero(t, Similarity("", "ПЕТРОВ"))
	assert.Zero(t, Similarity("ПЕТРОВ", " "))
}

func TestSurnameStem(t *testing.T) {
	assert.Equal(t, "ИВАНОВ", surnameStem("ИВАНОВА"))
	assert.Equal(t, "ВЕДЕНЕЕВ", surnameStem("ВЕДЕНЕЕВА"))
	assert.Equal(t, "ПУШКИН", surnameStem("ПУШКИНА"))
	assert.Equal(t, "ВЫСОЦКИЙ", surnameStem("ВЫСОЦКАЯ"))
	assert.Equal(t, "ШЕВЧЕНКО", surnameStem("ШЕВЧЕНКО"))

	common := newSurnameSet([]string{"Иванов"})
	assert.True(t, common.common("Иванова"))
	assert.False(t, common.common("Сидоров"))
}

func TestStringFeatures_FatherAndSon(t *testing.T) {
	father := gds.Person{ID: 7, FirstName: "Петр", LastName: "Смирнов", Patronymic: "Алексеевич"}
	son := gds.Person{ID: 3, FirstName: "Иван", LastName: "Смирнов", Patronymic: "Петр"}

	for _, c := range []Candidate{
		stringFeatures(father, son, nil),
		stringFeatures(son, father, nil),
	} {
		assert.Equal(t, Pair{Source: 3, Target: 7}, c.Pair)
		assert.Equal(t, 1.0, c.PatronymicSim, "father's first name is the son's patronymic")
		assert.Less(t, c.SiblingSim, 0.5)
		assert.Equal(t, 1.0, c.LastNameSim)
	}
}

func TestStringFeatures_Siblings(t *testing.T) {
	a := gds.Person{ID: 1, FirstName: "Анна", LastName: "Орлова", Patronymic: "Сергеевна"}
	b := gds.Person{ID: 2, FirstName: "Олег", LastName: "Орлов", Patronymic: "Сергеевна"}

	c := stringFeatures(a, b, nil)
	assert.Equal(t, 1.0, c.SiblingSim)
	assert.Less(t, c.PatronymicSim, 0.5)
}
