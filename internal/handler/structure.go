package handler

import (
	"context"
	"net/url"
	"strings"

	"github.com/genomebridge/genome-bridge/internal/errkind"
)

// Protein structure handlers: PDB entry metadata and AlphaFold predictions.

func registerStructure(t map[string]Func) {
	t["get_protein_structure"] = getProteinStructure
	t["get_alphafold_structure"] = getAlphaFoldStructure
}

func getProteinStructure(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	pdbID := strings.ToUpper(strings.TrimSpace(strArg(args, "pdb_id")))
	if len(pdbID) != 4 {
		return nil, errkind.E(errkind.InvalidArguments, "pdb_id must be a 4-character PDB id")
	}
	var entry map[string]any
	if err := h.HTTP.GetJSON(ctx,
		h.Opts.PDBBaseURL+"/core/entry/"+url.PathEscape(pdbID), nil, &entry); err != nil {
		return nil, err
	}
	return map[string]any{
		"pdb_id":       pdbID,
		"entry":        entry,
		"download_url": "https://files.rcsb.org/download/" + pdbID + ".pdb",
	}, nil
}

func getAlphaFoldStructure(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	accession := strings.TrimSpace(strArg(args, "accession"))
	var models []map[string]any
	if err := h.HTTP.GetJSON(ctx,
		h.Opts.AlphaFoldBase+"/prediction/"+url.PathEscape(accession), nil, &models); err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, errkind.E(errkind.UpstreamError, "no AlphaFold model for %q", accession)
	}
	return map[string]any{
		"accession": accession,
		"model":     models[0],
		"count":     len(models),
	}, nil
}
