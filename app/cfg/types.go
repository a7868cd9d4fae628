package cfg

type Cfg struct {
	// Storage
	DBPath     string
	SourcesDir string

	// HTTP server
	Port    string
	BaseUrl string

	// Ingestion
	UserAgent             string
	FetchTimeout          int
	RecurrenceHorizonDays int
	TelegramBotToken      string
	TelegramAPIURL        string
	WatchSources          bool

	// Scheduling
	IngestCron          string
	DigestMorningCron   string
	DigestAfternoonCron string

	// Mail
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromEmail    string

	// Application metadata
	Timezone string
	Debug    bool
	Version  string

	// One-shot modes
	Once      bool
	ImportICS string
}
