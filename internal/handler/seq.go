package handler

import (
	"context"
	"math"
	"strings"

	"github.com/genomebridge/genome-bridge/internal/errkind"
)

// Pure-local sequence computations. Deterministic, no network, no retries;
// they run in-process under the short local deadline.

func registerSequence(t map[string]Func) {
	t["compute_gc"] = computeGC
	t["translate_dna"] = translateDNA
	t["reverse_complement"] = reverseComplement
	t["complement_sequence"] = complementSequence
	t["transcribe_dna"] = transcribeDNA
	t["find_orfs"] = findORFs
	t["codon_usage"] = codonUsage
	t["sequence_similarity"] = sequenceSimilarity
	t["count_nucleotides"] = countNucleotides
	t["find_motif"] = findMotif
	t["gc_skew"] = gcSkew
	t["sequence_stats"] = sequenceStats
}

var complementTable = map[byte]byte{
	'A': 'T', 'T': 'A', 'C': 'G', 'G': 'C', 'N': 'N',
	'a': 't', 't': 'a', 'c': 'g', 'g': 'c', 'n': 'n',
	'U': 'A', 'u': 'a',
}

// standard genetic code, DNA codons
var geneticCode = map[string]byte{
	"TTT": 'F', "TTC": 'F', "TTA": 'L', "TTG": 'L',
	"CTT": 'L', "CTC": 'L', "CTA": 'L', "CTG": 'L',
	"ATT": 'I', "ATC": 'I', "ATA": 'I', "ATG": 'M',
	"GTT": 'V', "GTC": 'V', "GTA": 'V', "GTG": 'V',
	"TCT": 'S', "TCC": 'S', "TCA": 'S', "TCG": 'S',
	"CCT": 'P', "CCC": 'P', "CCA": 'P', "CCG": 'P',
	"ACT": 'T', "ACC": 'T', "ACA": 'T', "ACG": 'T',
	"GCT": 'A', "GCC": 'A', "GCA": 'A', "GCG": 'A',
	"TAT": 'Y', "TAC": 'Y', "TAA": '*', "TAG": '*',
	"CAT": 'H', "CAC": 'H', "CAA": 'Q', "CAG": 'Q',
	"AAT": 'N', "AAC": 'N', "AAA": 'K', "AAG": 'K',
	"GAT": 'D', "GAC": 'D', "GAA": 'E', "GAG": 'E',
	"TGT": 'C', "TGC": 'C', "TGA": '*', "TGG": 'W',
	"CGT": 'R', "CGC": 'R', "CGA": 'R', "CGG": 'R',
	"AGT": 'S', "AGC": 'S', "AGA": 'R', "AGG": 'R',
	"GGT": 'G', "GGC": 'G', "GGA": 'G', "GGG": 'G',
}

// iupacMatch maps IUPAC nucleotide codes to the set of bases they match.
var iupacMatch = map[byte]string{
	'A': "A", 'C': "C", 'G': "G", 'T': "T", 'U': "T",
	'R': "AG", 'Y': "CT", 'S': "CG", 'W': "AT",
	'K': "GT", 'M': "AC", 'B': "CGT", 'D': "AGT",
	'H': "ACT", 'V': "ACG", 'N': "ACGT",
}

func cleanSeq(s string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s))
}

func checkDNA(name, s string) error {
	if s == "" {
		return errkind.E(errkind.InvalidArguments, "%s must not be empty", name)
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 'A', 'T', 'C', 'G', 'N':
		default:
			return errkind.E(errkind.InvalidArguments,
				"%s contains invalid character %q at position %d", name, string(s[i]), i+1)
		}
	}
	return nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func computeGC(_ context.Context, _ *Ctx, args map[string]any) (map[string]any, error) {
	seq := cleanSeq(strArg(args, "sequence"))
	if err := checkDNA("sequence", seq); err != nil {
		return nil, err
	}
	gc := 0
	for i := 0; i < len(seq); i++ {
		if seq[i] == 'G' || seq[i] == 'C' {
			gc++
		}
	}
	result := map[string]any{
		"gcContent": round2(float64(gc) / float64(len(seq)) * 100),
		"length":    len(seq),
	}
	if window := intArg(args, "window", 0); window > 0 && window <= len(seq) {
		var windows []map[string]any
		for start := 0; start+window <= len(seq); start += window {
			wgc := 0
			for i := start; i < start+window; i++ {
				if seq[i] == 'G' || seq[i] == 'C' {
					wgc++
				}
			}
			windows = append(windows, map[string]any{
				"start": start + 1,
				"end":   start + window,
				"gc":    round2(float64(wgc) / float64(window) * 100),
			})
		}
		result["windows"] = windows
	}
	return result, nil
}

func translateDNA(_ context.Context, _ *Ctx, args map[string]any) (map[string]any, error) {
	dna := cleanSeq(strArg(args, "dna"))
	if err := checkDNA("dna", dna); err != nil {
		return nil, err
	}
	frame := intArg(args, "frame", 0)
	if frame < 0 || frame > 2 {
		return nil, errkind.E(errkind.InvalidArguments, "frame must be 0, 1 or 2")
	}
	toStop := boolArg(args, "to_stop", false)

	var protein strings.Builder
	for i := frame; i+3 <= len(dna); i += 3 {
		aa, ok := geneticCode[dna[i:i+3]]
		if !ok {
			aa = 'X' // codon containing N
		}
		if aa == '*' && toStop {
			break
		}
		protein.WriteByte(aa)
	}
	return map[string]any{
		"protein": protein.String(),
		"frame":   frame,
		"length":  protein.Len(),
	}, nil
}

func revComp(seq string) string {
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		c, ok := complementTable[seq[len(seq)-1-i]]
		if !ok {
			c = 'N'
		}
		out[i] = c
	}
	return string(out)
}

func reverseComplement(_ context.Context, _ *Ctx, args map[string]any) (map[string]any, error) {
	seq := cleanSeq(strArg(args, "sequence"))
	if err := checkDNA("sequence", seq); err != nil {
		return nil, err
	}
	return map[string]any{"sequence": revComp(seq), "length": len(seq)}, nil
}

func complementSequence(_ context.Context, _ *Ctx, args map[string]any) (map[string]any, error) {
	seq := cleanSeq(strArg(args, "sequence"))
	if err := checkDNA("sequence", seq); err != nil {
		return nil, err
	}
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		out[i] = complementTable[seq[i]]
	}
	return map[string]any{"sequence": string(out), "length": len(seq)}, nil
}

func transcribeDNA(_ context.Context, _ *Ctx, args map[string]any) (map[string]any, error) {
	seq := cleanSeq(strArg(args, "sequence"))
	if err := checkDNA("sequence", seq); err != nil {
		return nil, err
	}
	return map[string]any{
		"rna":    strings.ReplaceAll(seq, "T", "U"),
		"length": len(seq),
	}, nil
}

func findORFs(_ context.Context, _ *Ctx, args map[string]any) (map[string]any, error) {
	seq := cleanSeq(strArg(args, "sequence"))
	if err := checkDNA("sequence", seq); err != nil {
		return nil, err
	}
	minLen := intArg(args, "min_length", 90)
	bothStrands := boolArg(args, "both_strands", true)

	var orfs []map[string]any
	scan := func(s string, strand string) {
		for frame := 0; frame < 3; frame++ {
			for i := frame; i+3 <= len(s); i += 3 {
				if s[i:i+3] != "ATG" {
					continue
				}
				for j := i + 3; j+3 <= len(s); j += 3 {
					if aa := geneticCode[s[j:j+3]]; aa == '*' {
						length := j + 3 - i
						if length >= minLen {
							start, end := i+1, j+3
							if strand == "-" {
								start, end = len(s)-(j+3)+1, len(s)-i
							}
							orfs = append(orfs, map[string]any{
								"start":  start,
								"end":    end,
								"strand": strand,
								"frame":  frame,
								"length": length,
							})
						}
						i = j // resume after this stop
						break
					}
				}
			}
		}
	}
	scan(seq, "+")
	if bothStrands {
		scan(revComp(seq), "-")
	}
	return map[string]any{"orfs": orfs, "count": len(orfs)}, nil
}

func codonUsage(_ context.Context, _ *Ctx, args map[string]any) (map[string]any, error) {
	seq := cleanSeq(strArg(args, "sequence"))
	if err := checkDNA("sequence", seq); err != nil {
		return nil, err
	}
	if len(seq) < 3 {
		return nil, errkind.E(errkind.InvalidArguments, "sequence shorter than one codon")
	}
	counts := map[string]any{}
	total := 0
	for i := 0; i+3 <= len(seq); i += 3 {
		codon := seq[i : i+3]
		if strings.ContainsRune(codon, 'N') {
			continue
		}
		if n, ok := counts[codon].(int); ok {
			counts[codon] = n + 1
		} else {
			counts[codon] = 1
		}
		total++
	}
	return map[string]any{"codons": counts, "total": total}, nil
}

// sequenceSimilarity scores identity over an ungapped sliding alignment: the
// offset with the most matches wins. Shallow by design; full alignment is a
// job for the external BLAST tool.
func sequenceSimilarity(ctx context.Context, _ *Ctx, args map[string]any) (map[string]any, error) {
	query := cleanSeq(strArg(args, "query"))
	subject := cleanSeq(strArg(args, "subject"))
	if query == "" || subject == "" {
		return nil, errkind.E(errkind.InvalidArguments, "query and subject must not be empty")
	}

	bestMatches, bestOffset := 0, 0
	for offset := -len(query) + 1; offset < len(subject); offset++ {
		if ctx.Err() != nil {
			return nil, ctxError(ctx)
		}
		matches := 0
		for qi := 0; qi < len(query); qi++ {
			si := qi + offset
			if si < 0 || si >= len(subject) {
				continue
			}
			if query[qi] == subject[si] {
				matches++
			}
		}
		if matches > bestMatches {
			bestMatches, bestOffset = matches, offset
		}
	}
	shorter := len(query)
	if len(subject) < shorter {
		shorter = len(subject)
	}
	return map[string]any{
		"identity":    round2(float64(bestMatches) / float64(shorter) * 100),
		"matches":     bestMatches,
		"offset":      bestOffset,
		"query_len":   len(query),
		"subject_len": len(subject),
	}, nil
}

func countNucleotides(_ context.Context, _ *Ctx, args map[string]any) (map[string]any, error) {
	seq := cleanSeq(strArg(args, "sequence"))
	if err := checkDNA("sequence", seq); err != nil {
		return nil, err
	}
	counts := map[string]any{"A": 0, "T": 0, "C": 0, "G": 0, "N": 0}
	for i := 0; i < len(seq); i++ {
		k := string(seq[i])
		counts[k] = counts[k].(int) + 1
	}
	return map[string]any{"counts": counts, "length": len(seq)}, nil
}

func findMotif(_ context.Context, _ *Ctx, args map[string]any) (map[string]any, error) {
	seq := cleanSeq(strArg(args, "sequence"))
	motif := cleanSeq(strArg(args, "motif"))
	if err := checkDNA("sequence", seq); err != nil {
		return nil, err
	}
	if motif == "" {
		return nil, errkind.E(errkind.InvalidArguments, "motif must not be empty")
	}
	for i := 0; i < len(motif); i++ {
		if _, ok := iupacMatch[motif[i]]; !ok {
			return nil, errkind.E(errkind.InvalidArguments,
				"motif contains invalid IUPAC code %q", string(motif[i]))
		}
	}

	matchAt := func(s string, pos int) bool {
		for i := 0; i < len(motif); i++ {
			if !strings.ContainsRune(iupacMatch[motif[i]], rune(s[pos+i])) {
				return false
			}
		}
		return true
	}
	var hits []map[string]any
	scan := func(s, strand string) {
		for pos := 0; pos+len(motif) <= len(s); pos++ {
			if matchAt(s, pos) {
				start := pos + 1
				if strand == "-" {
					start = len(s) - pos - len(motif) + 1
				}
				hits = append(hits, map[string]any{
					"start":  start,
					"end":    start + len(motif) - 1,
					"strand": strand,
				})
			}
		}
	}
	scan(seq, "+")
	if boolArg(args, "both_strands", false) {
		scan(revComp(seq), "-")
	}
	return map[string]any{"matches": hits, "count": len(hits)}, nil
}

func gcSkew(_ context.Context, _ *Ctx, args map[string]any) (map[string]any, error) {
	seq := cleanSeq(strArg(args, "sequence"))
	if err := checkDNA("sequence", seq); err != nil {
		return nil, err
	}
	window := intArg(args, "window", 1000)
	if window <= 0 {
		return nil, errkind.E(errkind.InvalidArguments, "window must be positive")
	}
	if window > len(seq) {
		window = len(seq)
	}
	var points []map[string]any
	for start := 0; start+window <= len(seq); start += window {
		g, c := 0, 0
		for i := start; i < start+window; i++ {
			switch seq[i] {
			case 'G':
				g++
			case 'C':
				c++
			}
		}
		skew := 0.0
		if g+c > 0 {
			skew = float64(g-c) / float64(g+c)
		}
		points = append(points, map[string]any{
			"start": start + 1,
			"end":   start + window,
			"skew":  round2(skew),
		})
	}
	return map[string]any{"window": window, "points": points}, nil
}

func sequenceStats(_ context.Context, _ *Ctx, args map[string]any) (map[string]any, error) {
	seq := cleanSeq(strArg(args, "sequence"))
	if seq == "" {
		return nil, errkind.E(errkind.InvalidArguments, "sequence must not be empty")
	}
	counts := map[string]int{}
	for i := 0; i < len(seq); i++ {
		counts[string(seq[i])]++
	}
	gc := counts["G"] + counts["C"]
	composition := map[string]any{}
	for k, v := range counts {
		composition[k] = v
	}
	return map[string]any{
		"length":      len(seq),
		"composition": composition,
		"gcContent":   round2(float64(gc) / float64(len(seq)) * 100),
		"ambiguous":   counts["N"],
	}, nil
}
