package version

import "fmt"

// Значения подставляются при сборке через -ldflags -X.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарь.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

// Info возвращает версию, коммит и дату сборки по отдельности.
func Info() (v, c, d string) { return version, commit, date }

// String форматирует сведения о сборке одной строкой для логов.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
