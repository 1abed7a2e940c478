package override

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"presence-bridge/internal/proto"
)

const (
	DefaultNameTableURL = "https://raw.githubusercontent.com/Sun-Research-University/PresenceClient/master/Resource/QuestApplicationOverrides.json"
	DefaultIDTableURL   = "https://raw.githubusercontent.com/Sun-Research-University/PresenceClient/master/Resource/SwitchApplicationOverrides.json"

	defaultFetchTimeout = 10 * time.Second
	maxTableBytes       = 8 << 20
)

// Fetcher retrieves a remote table body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher is a Fetcher backed by net/http.
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxTableBytes))
}

// Sources names where each table is fetched from. An empty URL skips that
// table.
type Sources struct {
	NameTableURL string
	IDTableURL   string
}

func DefaultSources() Sources {
	return Sources{NameTableURL: DefaultNameTableURL, IDTableURL: DefaultIDTableURL}
}

// Resolver holds both tables. It is read-only after construction and safe for
// concurrent use.
type Resolver struct {
	names Table
	ids   Table
}

// NewResolver builds a Resolver from already parsed tables. Keys are
// canonicalised.
func NewResolver(names, ids map[string]Info) *Resolver {
	return &Resolver{
		names: canonicalize(FamilyName, names),
		ids:   canonicalize(FamilyID, ids),
	}
}

// Load fetches both tables concurrently. Failures are logged and leave the
// affected table empty; Load itself never fails.
func Load(ctx context.Context, f Fetcher, src Sources) *Resolver {
	var (
		wg         sync.WaitGroup
		names, ids map[string]Info
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		names = loadTable(ctx, f, "name", src.NameTableURL)
	}()
	go func() {
		defer wg.Done()
		ids = loadTable(ctx, f, "id", src.IDTableURL)
	}()
	wg.Wait()
	return NewResolver(names, ids)
}

func loadTable(ctx context.Context, f Fetcher, family, url string) map[string]Info {
	if url == "" || f == nil {
		return nil
	}
	body, err := f.Fetch(ctx, url)
	if err != nil {
		slog.Warn("override table fetch failed", "family", family, "url", url, "err", err)
		return nil
	}
	var out map[string]Info
	if err := sonic.Unmarshal(body, &out); err != nil {
		slog.Warn("override table parse failed", "family", family, "url", url, "len", len(body), "err", err)
		return nil
	}
	slog.Info("override table loaded", "family", family, "entries", len(out))
	return out
}

// Len reports entry counts per table.
func (r *Resolver) Len() (names, ids int) {
	if r == nil {
		return 0, 0
	}
	return len(r.names), len(r.ids)
}

// Resolution is the table-derived display data for one title.
type Resolution struct {
	Family Family
	Key    string
	Prefix string
	// Hit reports whether a table entry matched.
	Hit bool
}

// SmallText is the small-image text for the resolved family.
func (r Resolution) SmallText() string { return r.Family.Tag() }

// Resolve maps a title to its image key and details prefix. A nil Resolver
// resolves with defaults only.
func (r *Resolver) Resolve(t proto.Title) Resolution {
	fam := FamilyOf(t)
	res := Resolution{Family: fam, Prefix: DefaultPrefix}

	var (
		table  Table
		lookup string
	)
	if fam == FamilyName {
		res.Key = NameKey(t.Name)
		lookup = t.Name
		if r != nil {
			table = r.names
		}
	} else {
		res.Key = IDKey(t.ProgramID)
		lookup = res.Key
		if r != nil {
			table = r.ids
		}
	}

	info, ok := table[CanonicalKey(fam, lookup)]
	if !ok {
		return res
	}
	res.Hit = true
	if info.CustomKey != nil {
		res.Key = *info.CustomKey
	}
	if info.CustomPrefix != nil {
		res.Prefix = *info.CustomPrefix
	}
	return res
}
