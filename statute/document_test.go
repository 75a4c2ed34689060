package statute

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawStatute = "Кримінальний кодекс України\nВідомості Верховної Ради\n" +
	"ЗАГАЛЬНА ЧАСТИНА\nРозділ I\nСтаття 1. Завдання\n" +
	"ПРИКІНЦЕВІ ТА ПЕРЕХІДНІ ПОЛОЖЕННЯ\nРозділ I. ПРИКІНЦЕВІ ПОЛОЖЕННЯ\n1. Набирає чинності.\n" +
	"Президент України Л.КУЧМА\nм. Київ, 5 квітня 2001 року\n"

func TestSplitSeparatesRegions(t *testing.T) {
	doc, err := Split(rawStatute, DefaultMarkers())
	require.NoError(t, err)

	assert.Equal(t, "ЗАГАЛЬНА ЧАСТИНА\nРозділ I\nСтаття 1. Завдання\n", doc.Main)
	assert.Equal(t, "ПРИКІНЦЕВІ ТА ПЕРЕХІДНІ ПОЛОЖЕННЯ\nРозділ I. ПРИКІНЦЕВІ ПОЛОЖЕННЯ\n1. Набирає чинності.\n", doc.Transitional)
	assert.Equal(t, "Президент України Л.КУЧМА\nм. Київ, 5 квітня 2001 року", doc.Footer)
}

func TestRemoveHeaderWithoutGeneralPart(t *testing.T) {
	assert.Equal(t, "текст", RemoveHeader("текст", DefaultMarkers()))
}

func TestSplitMissingFooter(t *testing.T) {
	_, err := Split("ЗАГАЛЬНА ЧАСТИНА\nСтаття 1. Текст", DefaultMarkers())

	var markerErr *MarkerError
	require.True(t, errors.As(err, &markerErr))
	assert.Equal(t, "Президент України Л.КУЧМА", markerErr.Marker)
	assert.ErrorIs(t, err, ErrMarkerNotFound)
}

func TestSplitMissingTransitionalPart(t *testing.T) {
	_, err := Split("ЗАГАЛЬНА ЧАСТИНА\nСтаття 1. Текст\nПрезидент України Л.КУЧМА", DefaultMarkers())

	var markerErr *MarkerError
	require.True(t, errors.As(err, &markerErr))
	assert.Equal(t, "main", markerErr.Region)
}

func TestMarkersValidate(t *testing.T) {
	require.NoError(t, DefaultMarkers().Validate())

	m := DefaultMarkers()
	m.TransitionalPart = "ДОДАТОК"
	assert.Error(t, m.Validate())

	m = DefaultMarkers()
	m.TerminalHeading = "Кінець"
	assert.Error(t, m.Validate())

	m = DefaultMarkers()
	m.Parts = nil
	assert.Error(t, m.Validate())
}
