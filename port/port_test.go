package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"felicad/card"
)

func TestLookupKnown(t *testing.T) {
	tbl, err := NewTable(Config{})
	require.NoError(t, err)

	want := map[string]Number{
		"1-1.4":   1,
		"1-1.2":   2,
		"1-1.1":   3,
		"1-1.3.4": 4,
		"1-1.3.2": 5,
		"1-1.3.1": 6,
		"1-1.3.3": 7,
	}
	for path, n := range want {
		for i := 0; i < 3; i++ {
			assert.Equal(t, n, tbl.Lookup(path), path)
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	tbl, err := NewTable(Config{})
	require.NoError(t, err)

	for _, path := range []string{"1-2.1", "", "1-1.3", "1-1.4:1.0", "usb1"} {
		assert.Equal(t, None, tbl.Lookup(path), path)
		assert.False(t, tbl.Lookup(path).Valid())
	}
}

func TestNewTableFromConfig(t *testing.T) {
	tbl, err := NewTable(Config{Topology: map[string]int{"2-1": 1, "2-2": 2}})
	require.NoError(t, err)
	assert.Equal(t, Number(2), tbl.Lookup("2-2"))
	assert.Equal(t, None, tbl.Lookup("1-1.4"))
	assert.Equal(t, []Entry{{"2-1", 1}, {"2-2", 2}}, tbl.Entries())

	_, err = NewTable(Config{Topology: map[string]int{"2-1": 1, "2-2": 1}})
	assert.Error(t, err)
	_, err = NewTable(Config{Topology: map[string]int{"2-1": 0}})
	assert.Error(t, err)
	_, err = NewTable(Config{Topology: map[string]int{"2-1": 8}})
	assert.Error(t, err)
	_, err = NewTable(Config{Topology: map[string]int{"2-1": int(Max)}})
	assert.NoError(t, err)
}

func TestNumberString(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "5", Number(5).String())
}

func TestModelForName(t *testing.T) {
	assert.Equal(t, card.ModelRCS300, ModelForName("Sony FeliCa Port/PaSoRi RC-S300/P 00 00"))
	assert.Equal(t, card.ModelRCS320, ModelForName("SONY RC-S320 01 00"))
	assert.Equal(t, card.ModelUnknown, ModelForName("ACS ACR122U PICC Interface 00 00"))
}

func TestCorrelatePairsSorted(t *testing.T) {
	names := []string{
		"Sony FeliCa Port/PaSoRi RC-S300/P 01 00",
		"ACS ACR122U 00 00",
		"Sony FeliCa Port/PaSoRi RC-S300/P 00 00",
	}
	paths := []string{"1-1.3.2", "1-1.1"}

	p := Correlate(names, card.ModelRCS300, "0dc9", paths)
	assert.False(t, p.Mismatch())
	assert.Equal(t, map[string]string{
		"Sony FeliCa Port/PaSoRi RC-S300/P 00 00": "1-1.1",
		"Sony FeliCa Port/PaSoRi RC-S300/P 01 00": "1-1.3.2",
	}, p.Paths)
}

func TestCorrelateMatchesProductID(t *testing.T) {
	p := Correlate([]string{"Generic 054C:0DC9 00 00"}, card.ModelRCS300, "0dc9", []string{"1-1.4"})
	assert.Equal(t, "1-1.4", p.Paths["Generic 054C:0DC9 00 00"])
}

func TestCorrelateMismatch(t *testing.T) {
	names := []string{
		"RC-S300/P 02 00",
		"RC-S300/P 00 00",
		"RC-S300/P 01 00",
	}
	paths := []string{"1-1.2", "1-1.1"}

	p := Correlate(names, card.ModelRCS300, "0dc9", paths)
	assert.True(t, p.Mismatch())
	assert.Equal(t, 3, p.Names)
	assert.Equal(t, 2, p.Devices)
	require.Len(t, p.Paths, 2)
	assert.Equal(t, "1-1.1", p.Paths["RC-S300/P 00 00"])
	assert.Equal(t, "1-1.2", p.Paths["RC-S300/P 01 00"])
	_, mapped := p.Paths["RC-S300/P 02 00"]
	assert.False(t, mapped)
}

func TestCorrelateDoesNotReorderInput(t *testing.T) {
	paths := []string{"1-1.4", "1-1.1"}
	Correlate([]string{"RC-S300 a", "RC-S300 b"}, card.ModelRCS300, "0dc9", paths)
	assert.Equal(t, []string{"1-1.4", "1-1.1"}, paths)
}
