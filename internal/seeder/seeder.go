// Package seeder populates a development database with demo containers and
// inventories, using canned compiled-container scripts so no network access
// is needed.
package seeder

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"tagscope/internal/containers"
	"tagscope/internal/inspections"
	"tagscope/internal/settings"
)

// Seeder handles the demo data seeding process.
type Seeder struct {
	DBManager cartridge.DBManager
	Logger    *slog.Logger
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager: dbManager,
		Logger:    logger,
	}
}

// cannedFetcher serves the embedded demo scripts.
type cannedFetcher struct {
	sources map[string]string
}

func (f *cannedFetcher) FetchContainer(_ context.Context, containerID string) (string, error) {
	source, ok := f.sources[containerID]
	if !ok {
		return "", fmt.Errorf("no demo script for %s", containerID)
	}
	return source, nil
}

// demoSources mirrors the shape of real published gtm.js output: an
// ecommerce-style container and a simple marketing-site container.
var demoSources = map[string]string{
	"GTM-DEMO001": `var data = {
"resource": {
  "version":"312",
  "macros":[
    {"function":"__e"},
    {"function":"__v","vtp_name":"page_path","vtp_dataLayerVersion":2},
    {"function":"__v","vtp_name":"ecommerce.value","vtp_dataLayerVersion":2,"vtp_setDefaultValue":true,"vtp_defaultValue":"0"},
    {"function":"__c","vtp_value":"EUR"},
    {"function":"__jsm","vtp_javascript":"function(){return document.title}"}
  ],
  "tags":[
    {"function":"__googtag","vtp_measurementId":"G-DEMO12345","tag_id":1},
    {"function":"__gaawe","vtp_eventName":"purchase","vtp_measurementIdOverride":"G-DEMO12345","metadata":["map","name","GA4 - Purchase"],"once_per_event":true,"tag_id":2},
    {"function":"__html","vtp_html":"<script>fbq('init','555000111222333');fbq('track','PageView');</script>","metadata":["map","name","Meta Pixel Base"],"once_per_load":true,"tag_id":3},
    {"function":"__html","vtp_html":"<script>ttq.load('DEMOTIKTOK01');</script>","tag_id":4},
    {"function":"__cl","tag_id":5}
  ],
  "predicates":[
    {"function":"_eq","arg0":["macro",0],"arg1":"gtm.js"},
    {"function":"_eq","arg0":["macro",0],"arg1":"purchase"},
    {"function":"_cn","arg0":["macro",1],"arg1":"/checkout"}
  ],
  "rules":[
    [["if",0],["add",0,2,3]],
    [["if",1],["add",1]],
    [["if",0],["unless",2],["add",4]]
  ]
}};`,
	"GTM-DEMO002": `var data = {
"resource": {
  "version":"44",
  "macros":[
    {"function":"__e"},
    {"function":"__u","vtp_component":"URL"}
  ],
  "tags":[
    {"function":"__ua","vtp_trackingId":"UA-99887766-1","tag_id":1},
    {"function":"__html","vtp_html":"<script>(function(h,o,t,j,a,r){h.hj=h.hj||function(){};h._hjSettings={hjid:1234567,hjsv:6};})(window,document);</script>","metadata":["map","name","Hotjar"],"tag_id":2}
  ],
  "predicates":[
    {"function":"_eq","arg0":["macro",0],"arg1":"gtm.js"}
  ],
  "rules":[
    [["if",0],["add",0,1]]
  ]
}};`,
}

var demoLabels = map[string]string{
	"GTM-DEMO001": "demo ecommerce site",
	"GTM-DEMO002": "demo marketing site",
}

// Run seeds the demo containers and inspects them against the canned scripts.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Seeding demo data...", slog.Int("containers", len(demoSources)))

	db := s.DBManager.GetConnection()

	if err := settings.SetupDefaultSettings(db); err != nil {
		return fmt.Errorf("failed to set up default settings: %w", err)
	}

	fetcher := &cannedFetcher{sources: demoSources}

	for publicID, label := range demoLabels {
		if err := s.seedContainer(ctx, db, fetcher, publicID, label); err != nil {
			return err
		}
	}

	s.Logger.Info("Seeding completed successfully", slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Seeder) seedContainer(ctx context.Context, db *gorm.DB, fetcher inspections.Fetcher, publicID, label string) error {
	container := containers.Container{PublicID: publicID, Label: label}
	if err := containers.CreateContainer(db, &container); err != nil {
		// Already registered from a previous seed run
		s.Logger.Debug("Container already exists", slog.String("public_id", publicID))
	}

	summary, err := inspections.Inspect(ctx, db, s.Logger, fetcher, publicID)
	if err != nil {
		return fmt.Errorf("failed to seed %s: %w", publicID, err)
	}

	s.Logger.Info("Seeded container",
		slog.String("public_id", publicID),
		slog.Int("tags", summary.TagCount),
		slog.Int("triggers", summary.TriggerCount),
		slog.Int("variables", summary.VariableCount),
		slog.Int("vendors", summary.VendorCount))

	return nil
}
