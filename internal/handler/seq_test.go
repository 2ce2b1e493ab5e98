package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/genomebridge/genome-bridge/internal/errkind"
)

func TestComputeGC(t *testing.T) {
	tests := []struct {
		name string
		seq  string
		want float64
	}{
		{"half", "ATCGATCG", 50},
		{"all gc", "GGCC", 100},
		{"no gc", "ATAT", 0},
		{"lowercase and spaces", "at cg\nat cg", 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := computeGC(context.Background(), nil, map[string]any{"sequence": tt.seq})
			if err != nil {
				t.Fatalf("computeGC(%q): %v", tt.seq, err)
			}
			if got["gcContent"] != tt.want {
				t.Errorf("gcContent = %v, want %v", got["gcContent"], tt.want)
			}
		})
	}
}

func TestComputeGCWindows(t *testing.T) {
	got, err := computeGC(context.Background(), nil, map[string]any{
		"sequence": "GGGGAAAA",
		"window":   float64(4),
	})
	if err != nil {
		t.Fatal(err)
	}
	windows, ok := got["windows"].([]map[string]any)
	if !ok || len(windows) != 2 {
		t.Fatalf("windows = %#v, want 2 windows", got["windows"])
	}
	if windows[0]["gc"] != 100.0 || windows[1]["gc"] != 0.0 {
		t.Errorf("window gc = %v, %v; want 100, 0", windows[0]["gc"], windows[1]["gc"])
	}
}

func TestComputeGCRejectsInvalidBases(t *testing.T) {
	_, err := computeGC(context.Background(), nil, map[string]any{"sequence": "ATXG"})
	if errkind.KindOf(err) != errkind.InvalidArguments {
		t.Fatalf("kind = %v, want InvalidArguments", errkind.KindOf(err))
	}
}

func TestTranslateDNA(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"atg start", map[string]any{"dna": "ATGGCCTGA"}, "MA*"},
		{"frame 1", map[string]any{"dna": "AATGGCC", "frame": float64(1)}, "MA"},
		{"to stop", map[string]any{"dna": "ATGTAAGCC", "to_stop": true}, "M"},
		{"n codon", map[string]any{"dna": "ATGNNN"}, "MX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := translateDNA(context.Background(), nil, tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if got["protein"] != tt.want {
				t.Errorf("protein = %q, want %q", got["protein"], tt.want)
			}
		})
	}
}

func TestTranslateDNAInvalidFrame(t *testing.T) {
	_, err := translateDNA(context.Background(), nil, map[string]any{"dna": "ATG", "frame": float64(3)})
	if errkind.KindOf(err) != errkind.InvalidArguments {
		t.Fatalf("kind = %v, want InvalidArguments", errkind.KindOf(err))
	}
}

func TestReverseComplementRoundTrip(t *testing.T) {
	const seq = "ATCGGCTAGCNA"
	once, err := reverseComplement(context.Background(), nil, map[string]any{"sequence": seq})
	if err != nil {
		t.Fatal(err)
	}
	twice, err := reverseComplement(context.Background(), nil, map[string]any{"sequence": once["sequence"].(string)})
	if err != nil {
		t.Fatal(err)
	}
	if twice["sequence"] != seq {
		t.Errorf("double reverse complement = %q, want %q", twice["sequence"], seq)
	}
}

func TestReverseComplement(t *testing.T) {
	got, err := reverseComplement(context.Background(), nil, map[string]any{"sequence": "ATCG"})
	if err != nil {
		t.Fatal(err)
	}
	if got["sequence"] != "CGAT" {
		t.Errorf("revcomp(ATCG) = %q, want CGAT", got["sequence"])
	}
}

func TestTranscribeDNA(t *testing.T) {
	got, err := transcribeDNA(context.Background(), nil, map[string]any{"sequence": "ATCGT"})
	if err != nil {
		t.Fatal(err)
	}
	if got["rna"] != "AUCGU" {
		t.Errorf("rna = %q, want AUCGU", got["rna"])
	}
}

func TestFindORFs(t *testing.T) {
	// ATG + 2 codons + TAA = 12 nt ORF on the forward strand.
	got, err := findORFs(context.Background(), nil, map[string]any{
		"sequence":     "ATGGCCGCCTAA",
		"min_length":   float64(12),
		"both_strands": false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got["count"] != 1 {
		t.Fatalf("count = %v, want 1", got["count"])
	}
	orf := got["orfs"].([]map[string]any)[0]
	if orf["start"] != 1 || orf["end"] != 12 || orf["strand"] != "+" {
		t.Errorf("orf = %#v, want start 1 end 12 strand +", orf)
	}
}

func TestFindORFsMinLengthFilters(t *testing.T) {
	got, err := findORFs(context.Background(), nil, map[string]any{
		"sequence":   "ATGGCCGCCTAA",
		"min_length": float64(90),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got["count"] != 0 {
		t.Errorf("count = %v, want 0 below min_length", got["count"])
	}
}

func TestCodonUsage(t *testing.T) {
	got, err := codonUsage(context.Background(), nil, map[string]any{"sequence": "ATGATGGCC"})
	if err != nil {
		t.Fatal(err)
	}
	codons := got["codons"].(map[string]any)
	if codons["ATG"] != 2 || codons["GCC"] != 1 {
		t.Errorf("codons = %#v, want ATG:2 GCC:1", codons)
	}
	if got["total"] != 3 {
		t.Errorf("total = %v, want 3", got["total"])
	}
}

func TestSequenceSimilarityIdentical(t *testing.T) {
	got, err := sequenceSimilarity(context.Background(), nil, map[string]any{
		"query":   "ATCGATCG",
		"subject": "ATCGATCG",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got["identity"] != 100.0 {
		t.Errorf("identity = %v, want 100", got["identity"])
	}
	if got["offset"] != 0 {
		t.Errorf("offset = %v, want 0", got["offset"])
	}
}

func TestSequenceSimilarityShifted(t *testing.T) {
	got, err := sequenceSimilarity(context.Background(), nil, map[string]any{
		"query":   "ATCG",
		"subject": "GGATCGGG",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got["identity"] != 100.0 {
		t.Errorf("identity = %v, want 100", got["identity"])
	}
	if got["offset"] != 2 {
		t.Errorf("offset = %v, want 2", got["offset"])
	}
}

func TestSequenceSimilarityCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sequenceSimilarity(ctx, nil, map[string]any{"query": "ATCG", "subject": "ATCG"})
	if errkind.KindOf(err) != errkind.Cancelled {
		t.Fatalf("kind = %v, want Cancelled", errkind.KindOf(err))
	}
}

func TestCountNucleotides(t *testing.T) {
	got, err := countNucleotides(context.Background(), nil, map[string]any{"sequence": "AATCGN"})
	if err != nil {
		t.Fatal(err)
	}
	counts := got["counts"].(map[string]any)
	want := map[string]int{"A": 2, "T": 1, "C": 1, "G": 1, "N": 1}
	for base, n := range want {
		if counts[base] != n {
			t.Errorf("counts[%s] = %v, want %d", base, counts[base], n)
		}
	}
}

func TestFindMotifIUPAC(t *testing.T) {
	// GAATTC is the EcoRI site; GRATTC with R=[AG] also matches it.
	got, err := findMotif(context.Background(), nil, map[string]any{
		"sequence": "AAGAATTCAA",
		"motif":    "GRATTC",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got["count"] != 1 {
		t.Fatalf("count = %v, want 1", got["count"])
	}
	hit := got["matches"].([]map[string]any)[0]
	if hit["start"] != 3 || hit["end"] != 8 {
		t.Errorf("hit = %#v, want start 3 end 8", hit)
	}
}

func TestFindMotifBothStrands(t *testing.T) {
	// GGGCCC is its own reverse complement, so it hits once per strand.
	got, err := findMotif(context.Background(), nil, map[string]any{
		"sequence":     "TTGGGCCCTT",
		"motif":        "GGGCCC",
		"both_strands": true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got["count"] != 2 {
		t.Errorf("count = %v, want 2", got["count"])
	}
}

func TestFindMotifRejectsBadCode(t *testing.T) {
	_, err := findMotif(context.Background(), nil, map[string]any{
		"sequence": "ATCG",
		"motif":    "AXT",
	})
	if errkind.KindOf(err) != errkind.InvalidArguments {
		t.Fatalf("kind = %v, want InvalidArguments", errkind.KindOf(err))
	}
}

func TestGCSkew(t *testing.T) {
	got, err := gcSkew(context.Background(), nil, map[string]any{
		"sequence": "GGGGCCCC",
		"window":   float64(4),
	})
	if err != nil {
		t.Fatal(err)
	}
	points := got["points"].([]map[string]any)
	if len(points) != 2 {
		t.Fatalf("points = %d, want 2", len(points))
	}
	if points[0]["skew"] != 1.0 || points[1]["skew"] != -1.0 {
		t.Errorf("skew = %v, %v; want 1, -1", points[0]["skew"], points[1]["skew"])
	}
}

func TestSequenceStats(t *testing.T) {
	got, err := sequenceStats(context.Background(), nil, map[string]any{"sequence": "ATCGN"})
	if err != nil {
		t.Fatal(err)
	}
	if got["length"] != 5 || got["gcContent"] != 40.0 || got["ambiguous"] != 1 {
		t.Errorf("stats = %#v, want length 5 gc 40 ambiguous 1", got)
	}
}

func TestCheckDNAErrorIsClassified(t *testing.T) {
	err := checkDNA("sequence", "ATZG")
	var be *errkind.Error
	if !errors.As(err, &be) {
		t.Fatalf("checkDNA error is %T, want *errkind.Error", err)
	}
	if be.Kind != errkind.InvalidArguments {
		t.Errorf("kind = %v, want InvalidArguments", be.Kind)
	}
}
