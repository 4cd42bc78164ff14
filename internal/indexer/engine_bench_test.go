package indexer

import (
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/obras-search/pkg/proto"
)

var benchTexts = []string{
	"Los primeros deberes prescritos por Dios a Sus siervos son el reconocimiento de Aquel que es la Aurora de Su Revelación",
	"Observad Mis mandamientos por amor a Mi belleza; la justicia es la más amada de todas las cosas ante Mi vista",
	"La certeza del día de la resurrección y la unidad de la religión de Dios son el fundamento de la fe",
}

func benchCorpus(n int) []proto.Document {
	docs := make([]proto.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, proto.Document{
			ID:         fmt.Sprintf("p-%d", i),
			Title:      fmt.Sprintf("Obra %d", i%40),
			Author:     "Bahá'u'lláh",
			AuthorSlug: "bahaullah",
			WorkSlug:   fmt.Sprintf("obra-%d", i%40),
			Text:       benchTexts[i%len(benchTexts)],
			Kind:       proto.KindParagraph,
		})
	}
	return docs
}

func BenchmarkBuildIndex(b *testing.B) {
	e, err := NewEngine(DefaultOptions())
	if err != nil {
		b.Fatal(err)
	}
	defer e.Close()
	docs := benchCorpus(5000)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.BuildIndex(docs)
	}
}

func BenchmarkSearch(b *testing.B) {
	queries := []string{"justicia", "mandamientos amor", `"unidad de la religión"`, "resureccion", "+deberes -belleza"}
	e, err := NewEngine(DefaultOptions())
	if err != nil {
		b.Fatal(err)
	}
	defer e.Close()
	e.BuildIndex(benchCorpus(5000))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = e.Search(queries[i%len(queries)], 20)
	}
}

func BenchmarkSearchParallel(b *testing.B) {
	e, err := NewEngine(DefaultOptions())
	if err != nil {
		b.Fatal(err)
	}
	defer e.Close()
	e.BuildIndex(benchCorpus(5000))

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = e.Search("justicia de Dios", 20)
		}
	})
}
