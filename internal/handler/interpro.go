package handler

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/genomebridge/genome-bridge/internal/errkind"
)

// InterPro handlers. Entry lookups hit the InterPro REST API; domain analysis
// drives the InterProScan job API (submit, poll, fetch) and reports progress
// at each phase.

func registerInterPro(t map[string]Func) {
	t["analyze_interpro_domains"] = analyzeInterProDomains
	t["get_interpro_entry"] = getInterProEntry
	t["interproscan_status"] = interproscanStatus
}

func interproscanBase(h *Ctx) string { return h.Opts.EBIToolsBaseURL + "/iprscan5" }

func analyzeInterProDomains(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	sequence := strings.ToUpper(strings.TrimSpace(strArg(args, "sequence")))
	if sequence == "" {
		return nil, errkind.E(errkind.InvalidArguments, "sequence must not be empty")
	}

	h.ReportProgress(0, "submitting InterProScan job")

	form := url.Values{
		"email":    {"genome-bridge@localhost"},
		"sequence": {sequence},
	}
	if apps := strsArg(args, "applications"); len(apps) > 0 {
		form.Set("appl", strings.Join(apps, ","))
	}
	jobIDRaw, err := h.HTTP.Do(ctx, Request{
		Method:  "POST",
		URL:     interproscanBase(h) + "/run",
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    []byte(form.Encode()),
	})
	if err != nil {
		return nil, err
	}
	jobID := strings.TrimSpace(string(jobIDRaw))
	h.ReportProgress(20, "job "+jobID+" submitted")
	if ctx.Err() != nil {
		return nil, ctxError(ctx)
	}

	// Poll until the job finishes. The task deadline bounds the loop.
	pct := 20
	for {
		statusRaw, err := h.HTTP.Do(ctx, Request{URL: interproscanBase(h) + "/status/" + url.PathEscape(jobID)})
		if err != nil {
			return nil, err
		}
		status := strings.TrimSpace(string(statusRaw))
		switch status {
		case "FINISHED":
			pct = 90
			h.ReportProgress(pct, "job finished, fetching report")
		case "RUNNING", "PENDING", "QUEUED":
			if pct < 70 {
				pct += 10
			}
			h.ReportProgress(pct, "job "+strings.ToLower(status))
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-ctx.Done():
				return nil, ctxError(ctx)
			}
		default:
			return nil, errkind.E(errkind.UpstreamError, "InterProScan job %s: %s", jobID, status)
		}
		break
	}

	var report struct {
		Results []struct {
			Matches []map[string]any `json:"matches"`
		} `json:"results"`
	}
	if err := h.HTTP.GetJSON(ctx, interproscanBase(h)+"/result/"+url.PathEscape(jobID)+"/json", nil, &report); err != nil {
		return nil, err
	}

	var domains []map[string]any
	for _, r := range report.Results {
		domains = append(domains, r.Matches...)
	}
	h.ReportProgress(100, "analysis complete")
	return map[string]any{
		"job_id":  jobID,
		"length":  len(sequence),
		"count":   len(domains),
		"domains": domains,
	}, nil
}

func getInterProEntry(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	accession := strArg(args, "accession")
	var entry struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := h.HTTP.GetJSON(ctx,
		h.Opts.InterProBaseURL+"/entry/interpro/"+url.PathEscape(accession), nil, &entry); err != nil {
		return nil, err
	}
	return map[string]any{"accession": accession, "entry": entry.Metadata}, nil
}

func interproscanStatus(ctx context.Context, h *Ctx, args map[string]any) (map[string]any, error) {
	jobID := strArg(args, "job_id")
	statusRaw, err := h.HTTP.Do(ctx, Request{URL: interproscanBase(h) + "/status/" + url.PathEscape(jobID)})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"job_id": jobID,
		"status": strings.TrimSpace(string(statusRaw)),
	}, nil
}
