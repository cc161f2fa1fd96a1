package itis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/cebimar/cifonauta/pkg/logger"
)

const (
	DefaultBaseUrl = "https://www.itis.gov/ITISWebService/jsonservice"

	itisSearchTemplate    = "%s/searchByScientificName?srchKey=%s"
	itisHierarchyTemplate = "%s/getFullHierarchyFromTSN?tsn=%s"
)

type (
	Config struct {
		BaseUrl string        `yaml:"base_url" env:"ITIS_BASE_URL" env-default:"https://www.itis.gov/ITISWebService/jsonservice" validate:"required,url"`
		Timeout time.Duration `yaml:"timeout" env:"ITIS_TIMEOUT" env-default:"30s"`

		// RetryDelay is the pause before the final lookup attempt.
		RetryDelay time.Duration `yaml:"retry_delay" env:"ITIS_RETRY_DELAY" env-default:"5s"`
	}

	// TaxonRef is a taxon as classified by ITIS. Parent is the next rank
	// up the hierarchy, if known.
	TaxonRef struct {
		Name   string
		Rank   string
		TSN    string
		Parent *TaxonRef
	}

	searchResult struct {
		ScientificNames []*scientificName `json:"scientificNames"`
	}

	scientificName struct {
		CombinedName string `json:"combinedName"`
		Kingdom      string `json:"kingdom"`
		Tsn          string `json:"tsn"`
	}

	hierarchyResult struct {
		HierarchyList []*hierarchyRecord `json:"hierarchyList"`
		RankName      string             `json:"rankName"`
		SciName       string             `json:"sciName"`
		Tsn           string             `json:"tsn"`
	}

	hierarchyRecord struct {
		ParentTsn string `json:"parentTsn"`
		RankName  string `json:"rankName"`
		TaxonName string `json:"taxonName"`
		Tsn       string `json:"tsn"`
	}

	// Resolver looks taxa up in the ITIS web service. See
	// https://www.itis.gov/ws_description.html for the API.
	Resolver struct {
		config Config
		client *http.Client
		log    logger.Logger
		sleep  func(context.Context, time.Duration) error
	}
)

func NewResolver(config Config, log logger.Logger) *Resolver {
	if config.BaseUrl == "" {
		config.BaseUrl = DefaultBaseUrl
	}

	return &Resolver{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		log:    log,
		sleep:  sleepContext,
	}
}

// WithSleeper replaces the function used to wait between attempts.
func (resolver *Resolver) WithSleeper(sleep func(context.Context, time.Duration) error) *Resolver {
	resolver.sleep = sleep
	return resolver
}

// Resolve looks up the scientific name provided, returning its
// classification and parent chain. Transport failures are retried once
// immediately and once more after the configured delay. Any failure
// which survives the retries (or a name ITIS does not know) yields
// nil and false; errors are logged, never returned.
func (resolver *Resolver) Resolve(ctx context.Context, name string) (*TaxonRef, bool) {
	delays := []time.Duration{0, 0, resolver.config.RetryDelay}

	var lastErr error
	for attempt, delay := range delays {
		if delay > 0 {
			resolver.log.Emit(logger.WARNING, "ITIS lookup for %q failed, retrying in %s\n", name, delay)
			if err := resolver.sleep(ctx, delay); err != nil {
				return nil, false
			}
		}

		taxon, err := resolver.lookup(ctx, name)
		if err == nil {
			resolver.log.Emit(logger.SUCCESS, "Resolved taxon %q (%s, tsn %s)\n", taxon.Name, taxon.Rank, taxon.TSN)
			return taxon, true
		}

		var noResult *NoResultError
		if errors.As(err, &noResult) {
			resolver.log.Emit(logger.WARNING, "ITIS has no record of %q\n", name)
			return nil, false
		}

		resolver.log.Emit(logger.DEBUG, "ITIS attempt %d for %q failed: %s\n", attempt+1, name, err)
		lastErr = err
	}

	resolver.log.Emit(logger.ERROR, "Giving up on ITIS lookup for %q: %s\n", name, lastErr)
	return nil, false
}

func (resolver *Resolver) lookup(ctx context.Context, name string) (*TaxonRef, error) {
	var search searchResult
	path := fmt.Sprintf(itisSearchTemplate, resolver.config.BaseUrl, url.QueryEscape(name))
	if err := resolver.httpGetJsonResponse(ctx, path, &search); err != nil {
		return nil, err
	}

	match := bestMatch(name, search.ScientificNames)
	if match == nil {
		return nil, &NoResultError{name}
	}

	var hierarchy hierarchyResult
	path = fmt.Sprintf(itisHierarchyTemplate, resolver.config.BaseUrl, url.QueryEscape(match.Tsn))
	if err := resolver.httpGetJsonResponse(ctx, path, &hierarchy); err != nil {
		return nil, err
	}

	return buildTaxon(match, &hierarchy), nil
}

// bestMatch picks the search hit whose name is closest to the query. An
// exact (case-insensitive) match always wins.
func bestMatch(query string, names []*scientificName) *scientificName {
	candidates := make([]*scientificName, 0, len(names))
	for _, n := range names {
		// ITIS encodes "no results" as a list holding a single null
		if n != nil && n.Tsn != "" {
			candidates = append(candidates, n)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	metric := metrics.NewLevenshtein()
	metric.CaseSensitive = false
	similarity := make(map[*scientificName]float64, len(candidates))
	for _, c := range candidates {
		if strings.EqualFold(c.CombinedName, query) {
			return c
		}
		similarity[c] = strutil.Similarity(c.CombinedName, query, metric)
	}

	sort.SliceStable(candidates, func(i, j int) bool { return similarity[candidates[i]] > similarity[candidates[j]] })
	return candidates[0]
}

// buildTaxon walks the hierarchy from the matched TSN up through each
// parentTsn. The list ITIS returns also contains the direct children of
// the taxon, which are ignored.
func buildTaxon(match *scientificName, hierarchy *hierarchyResult) *TaxonRef {
	byTsn := make(map[string]*hierarchyRecord, len(hierarchy.HierarchyList))
	for _, rec := range hierarchy.HierarchyList {
		if rec != nil {
			byTsn[rec.Tsn] = rec
		}
	}

	root := &TaxonRef{Name: match.CombinedName, Rank: hierarchy.RankName, TSN: match.Tsn}
	if self, ok := byTsn[match.Tsn]; ok && root.Rank == "" {
		root.Rank = self.RankName
	}

	current := root
	seen := map[string]bool{match.Tsn: true}
	parentTsn := ""
	if self, ok := byTsn[match.Tsn]; ok {
		parentTsn = self.ParentTsn
	}
	for parentTsn != "" && !seen[parentTsn] {
		rec, ok := byTsn[parentTsn]
		if !ok {
			break
		}

		seen[parentTsn] = true
		current.Parent = &TaxonRef{Name: rec.TaxonName, Rank: rec.RankName, TSN: rec.Tsn}
		current = current.Parent
		parentTsn = rec.ParentTsn
	}

	return root
}

// Ancestors lists the parent chain of the taxon, nearest first.
func (taxon *TaxonRef) Ancestors() []*TaxonRef {
	var chain []*TaxonRef
	for p := taxon.Parent; p != nil; p = p.Parent {
		chain = append(chain, p)
	}

	return chain
}

func (resolver *Resolver) httpGetJsonResponse(ctx context.Context, urlPath string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlPath, nil)
	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to construct GET(%s): %s", urlPath, err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := resolver.client.Do(req)
	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to perform GET(%s) to ITIS: %s", urlPath, err)}
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &FailedRequestError{httpCode: resp.StatusCode, message: strings.TrimSpace(string(respBody))}
	}

	if err != nil {
		return &UnknownRequestError{fmt.Sprintf("failed to read response body: %s", err)}
	}

	if err := json.Unmarshal(respBody, target); err != nil {
		return &UnknownRequestError{fmt.Sprintf("response JSON could not be unmarshalled: %s", err)}
	}

	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type (
	FailedRequestError struct {
		httpCode int
		message  string
	}
	NoResultError       struct{ name string }
	UnknownRequestError struct{ reason string }
)

func (err *UnknownRequestError) Error() string {
	return fmt.Sprintf("unknown error occurred while communicating with ITIS: %s", err.reason)
}

func (err *FailedRequestError) Error() string {
	return fmt.Sprintf("Request failure (HTTP %d): %s", err.httpCode, err.message)
}

func (err *NoResultError) Error() string {
	return fmt.Sprintf("no results returned from ITIS for %q", err.name)
}
