package handler

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/genomebridge/genome-bridge/internal/errkind"
)

// External analysis handlers: the NCBI BLAST URL API and the EBI job
// dispatcher (Clustal Omega, MUSCLE). Both are submit-poll-fetch services, so
// both handlers are long-running and report progress per phase.

func registerExternal(t map[string]Func) {
	t["blast_search"] = blastSearch
	t["msa_align"] = msaAlign
	t["ebi_job_status"] = ebiJobStatus
	t["fetch_ensembl_gene"] = fetchEnsemblGene
}

var (
	blastRIDRe    = regexp.MustCompile(`RID = (\S+)`)
	blastRTOERe   = regexp.MustCompile(`RTOE = (\d+)`)
	blastStatusRe = regexp.MustCompile(`Status=(\S+)`)
)

func blastSearch(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	sequence := cleanSeq(strArg(args, "sequence"))
	if sequence == "" {
		return nil, errkind.E(errkind.InvalidArguments, "sequence must not be empty")
	}
	program := strArg(args, "program")
	if program == "" {
		program = "blastn"
	}
	database := strArg(args, "database")
	if database == "" {
		database = "nt"
	}
	limit := intArg(args, "limit", 25)

	h.ReportProgress(0, "submitting BLAST search")
	form := url.Values{
		"CMD":          {"Put"},
		"PROGRAM":      {program},
		"DATABASE":     {database},
		"QUERY":        {sequence},
		"HITLIST_SIZE": {fmt.Sprintf("%d", limit)},
	}
	putRaw, err := h.HTTP.Do(ctx, Request{
		Method:  "POST",
		URL:     h.Opts.BLASTBaseURL,
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    []byte(form.Encode()),
	})
	if err != nil {
		return nil, err
	}
	ridMatch := blastRIDRe.FindSubmatch(putRaw)
	if ridMatch == nil {
		return nil, errkind.E(errkind.UpstreamError, "BLAST submission returned no RID")
	}
	rid := string(ridMatch[1])

	// RTOE is NCBI's estimate of time-to-completion, used to pace the poll.
	wait := 10 * time.Second
	if m := blastRTOERe.FindSubmatch(putRaw); m != nil {
		var rtoe int
		fmt.Sscanf(string(m[1]), "%d", &rtoe)
		if rtoe > 0 && rtoe < 60 {
			wait = time.Duration(rtoe) * time.Second
		}
	}
	h.ReportProgress(20, "search "+rid+" submitted")

	pct := 20
	for {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctxError(ctx)
		}
		wait = 10 * time.Second

		statusRaw, err := h.HTTP.Do(ctx, Request{
			URL: h.Opts.BLASTBaseURL + "?CMD=Get&FORMAT_OBJECT=SearchInfo&RID=" + url.QueryEscape(rid),
		})
		if err != nil {
			return nil, err
		}
		m := blastStatusRe.FindSubmatch(statusRaw)
		status := "UNKNOWN"
		if m != nil {
			status = string(m[1])
		}
		switch status {
		case "READY":
			h.ReportProgress(90, "search finished, fetching report")
		case "WAITING":
			if pct < 70 {
				pct += 10
			}
			h.ReportProgress(pct, "search running")
			continue
		default:
			return nil, errkind.E(errkind.UpstreamError, "BLAST search %s: %s", rid, status)
		}
		break
	}

	var report struct {
		BlastOutput2 []struct {
			Report struct {
				Results struct {
					Search struct {
						Hits []map[string]any `json:"hits"`
					} `json:"search"`
				} `json:"results"`
			} `json:"report"`
		} `json:"BlastOutput2"`
	}
	if err := h.HTTP.GetJSON(ctx, h.Opts.BLASTBaseURL, url.Values{
		"CMD":         {"Get"},
		"FORMAT_TYPE": {"JSON2_S"},
		"RID":         {rid},
	}, &report); err != nil {
		return nil, err
	}

	var hits []map[string]any
	for _, out := range report.BlastOutput2 {
		hits = append(hits, out.Report.Results.Search.Hits...)
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	h.ReportProgress(100, "BLAST complete")
	return map[string]any{
		"rid":      rid,
		"program":  program,
		"database": database,
		"count":    len(hits),
		"hits":     hits,
	}, nil
}

func msaAlign(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	sequences := strsArg(args, "sequences")
	if len(sequences) < 2 {
		return nil, errkind.E(errkind.InvalidArguments, "msa_align needs at least 2 sequences")
	}
	method := strArg(args, "method")
	if method == "" {
		method = "clustalo"
	}

	// Accept bare sequences or FASTA records; the job API wants FASTA.
	var fasta strings.Builder
	for i, s := range sequences {
		s = strings.TrimSpace(s)
		if !strings.HasPrefix(s, ">") {
			fmt.Fprintf(&fasta, ">seq%d\n", i+1)
		}
		fasta.WriteString(s)
		fasta.WriteByte('\n')
	}

	h.ReportProgress(0, "submitting alignment job")
	base := h.Opts.EBIToolsBaseURL + "/" + method
	form := url.Values{
		"email":    {"genome-bridge@localhost"},
		"sequence": {fasta.String()},
	}
	jobIDRaw, err := h.HTTP.Do(ctx, Request{
		Method:  "POST",
		URL:     base + "/run",
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    []byte(form.Encode()),
	})
	if err != nil {
		return nil, err
	}
	jobID := strings.TrimSpace(string(jobIDRaw))
	h.ReportProgress(20, "job "+jobID+" submitted")

	pct := 20
	for {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return nil, ctxError(ctx)
		}
		statusRaw, err := h.HTTP.Do(ctx, Request{URL: base + "/status/" + url.PathEscape(jobID)})
		if err != nil {
			return nil, err
		}
		status := strings.TrimSpace(string(statusRaw))
		switch status {
		case "FINISHED":
			h.ReportProgress(90, "alignment finished, fetching result")
		case "RUNNING", "PENDING", "QUEUED":
			if pct < 70 {
				pct += 10
			}
			h.ReportProgress(pct, "job "+strings.ToLower(status))
			continue
		default:
			return nil, errkind.E(errkind.UpstreamError, "%s job %s: %s", method, jobID, status)
		}
		break
	}

	alnRaw, err := h.HTTP.Do(ctx, Request{URL: base + "/result/" + url.PathEscape(jobID) + "/aln-fasta"})
	if err != nil {
		return nil, err
	}
	h.ReportProgress(100, "alignment complete")
	return map[string]any{
		"job_id":    jobID,
		"method":    method,
		"count":     len(sequences),
		"alignment": string(alnRaw),
	}, nil
}

func ebiJobStatus(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	jobID := strArg(args, "job_id")
	service := strArg(args, "service")
	if service == "" {
		service = "clustalo"
	}
	statusRaw, err := h.HTTP.Do(ctx, Request{
		URL: h.Opts.EBIToolsBaseURL + "/" + url.PathEscape(service) + "/status/" + url.PathEscape(jobID),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"job_id":  jobID,
		"service": service,
		"status":  strings.TrimSpace(string(statusRaw)),
	}, nil
}

func fetchEnsemblGene(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	symbol := strArg(args, "symbol")
	species := strArg(args, "species")
	if species == "" {
		species = "homo_sapiens"
	}
	var gene map[string]any
	if err := h.HTTP.GetJSON(ctx,
		h.Opts.EnsemblBaseURL+"/lookup/symbol/"+url.PathEscape(species)+"/"+url.PathEscape(symbol),
		url.Values{"content-type": {"application/json"}, "expand": {"1"}}, &gene); err != nil {
		return nil, err
	}
	return map[string]any{"symbol": symbol, "species": species, "gene": gene}, nil
}
