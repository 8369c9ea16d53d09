package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altadoc/altadoc/internal/domain"
)

func TestTextDehyphenation(t *testing.T) {
	in := "трубо-\nпровод выполнен из стали"
	assert.Equal(t, "трубопровод выполнен из стали", Text(in))
}

func TestTextDecimalComma(t *testing.T) {
	assert.Equal(t, "давление 1.6 MPa", Text("давление 1,6 МПа"))
}

func TestTextCollapsesWhitespace(t *testing.T) {
	in := "a\t\t b \n\n\n\n c  "
	assert.Equal(t, "a b\n\nc", Text(in))
}

func TestTextIdempotent(t *testing.T) {
	inputs := []string{
		"расход 50 м3/ч при напоре 80 м",
		"трубо-\nпровод Ду 100 мм, 1,6 МПа",
		"Pump capacity 120 m3/h",
	}
	for _, in := range inputs {
		once := Text(in)
		assert.Equal(t, once, Text(once), in)
	}
}

func TestUnitsCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"50 м3/ч", "50 m3/h"},
		{"80 мм", "80 mm"},
		{"1.6 МПа", "1.6 MPa"},
		{"расход 10 л/с", "расход 10 l/s"},
		{"2900 об/мин", "2900 rpm"},
		{"температура 95 °С", "температура 95 °C"},
		{"15 кВт", "15 kW"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Units(tt.in), tt.in)
	}
}

func TestUnitsDoesNotTouchEmbeddedTokens(t *testing.T) {
	// "мм" inside a word must not become "mm".
	assert.Equal(t, "коммутация", Units("коммутация"))
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"насос центробежный для перекачки воды", "ru"},
		{"centrifugal pump for water supply", "en"},
		// Mixed text gets the dominant script's tag, never a third value.
		{"насос Grundfos CR 32-4 for water supply systems", "en"},
		{"насос центробежный Grundfos для перекачки воды", "ru"},
		{"12345 --- 678", "en"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectLanguage(tt.in), tt.in)
	}
}

func TestExtractReferences(t *testing.T) {
	text := "Согласно ГОСТ 12.1.004-91 п. 3.2 и СП 31.13330-2012, " +
		"а также СНиП 2.04.02 и ФНП."
	refs := ExtractReferences(text)
	require.Len(t, refs, 3)

	assert.Equal(t, domain.DocReference{
		Family: "ГОСТ", Number: "12.1.004", Year: "1991", Clause: "3.2",
	}, refs[0])
	assert.Equal(t, "СП", refs[1].Family)
	assert.Equal(t, "31.13330", refs[1].Number)
	assert.Equal(t, "2012", refs[1].Year)
	assert.Equal(t, "СНиП", refs[2].Family)
	assert.Equal(t, "2.04.02", refs[2].Number)
}

func TestExtractReferencesGostR(t *testing.T) {
	refs := ExtractReferences("см. ГОСТ Р 52630-2012")
	require.Len(t, refs, 1)
	assert.Equal(t, "ГОСТ Р", refs[0].Family)
	assert.Equal(t, "52630", refs[0].Number)
	assert.Equal(t, "2012", refs[0].Year)
}

func TestExtractReferencesDedupes(t *testing.T) {
	refs := ExtractReferences("ГОСТ 9544-2015 и снова ГОСТ 9544-2015")
	assert.Len(t, refs, 1)
}

func TestExtractReferencesNone(t *testing.T) {
	assert.Nil(t, ExtractReferences("обычный текст без ссылок"))
}

func TestExtractNumericFacts(t *testing.T) {
	text := Text("Расход 50 м3/ч, напор 80 м, мощность 15 кВт, масса 240 кг")
	facts := ExtractNumericFacts(text)
	require.NotNil(t, facts)

	assert.Equal(t, domain.NumericFact{Value: 50, Unit: "m3/h"}, facts["flow"])
	assert.Equal(t, domain.NumericFact{Value: 80, Unit: "m"}, facts["head"])
	assert.Equal(t, domain.NumericFact{Value: 15, Unit: "kW"}, facts["power"])
	assert.Equal(t, domain.NumericFact{Value: 240, Unit: "kg"}, facts["mass"])
}

func TestExtractNumericFactsEnglish(t *testing.T) {
	facts := ExtractNumericFacts("Pump capacity 120 m3/h at head 45 m")
	require.NotNil(t, facts)
	assert.Equal(t, 120.0, facts["flow"].Value)
	assert.Equal(t, 45.0, facts["head"].Value)
}

func TestExtractNumericFactsEarliestKeywordWins(t *testing.T) {
	// Two keywords map onto flow; the one appearing first in the text wins,
	// on every run.
	text := Text("Производительность 1000 м3/ч. Расход 500 м3/ч.")
	for i := 0; i < 20; i++ {
		facts := ExtractNumericFacts(text)
		require.NotNil(t, facts)
		assert.Equal(t, 1000.0, facts["flow"].Value)
	}
}

func TestExtractNumericFactsDropsUnitlessValues(t *testing.T) {
	assert.Nil(t, ExtractNumericFacts("давление 50"))

	// A later value with a unit is still picked up.
	facts := ExtractNumericFacts(Text("давление 1.6 МПа, напор 80"))
	require.NotNil(t, facts)
	assert.Equal(t, domain.NumericFact{Value: 1.6, Unit: "MPa"}, facts["pressure"])
	_, ok := facts["head"]
	assert.False(t, ok)
}

func TestExtractNumericFactsEmpty(t *testing.T) {
	assert.Nil(t, ExtractNumericFacts("no parameters here"))
}
