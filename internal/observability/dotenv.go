package observability

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// LoadDotEnv loads KEY=value pairs from path (".env" when empty). Variables
// already present in the environment are left untouched so container
// injected values win. A missing file is not an error.
func LoadDotEnv(logger *slog.Logger, path string) int {
	if path == "" {
		path = ".env"
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no .env file found, skipping", "path", path)
			return 0
		}
		logger.Warn("failed to open .env file", "path", path, "error", err)
		return 0
	}
	defer file.Close()

	loaded := 0
	scanner := bufio.NewScanner(file)
	for lineNumber := 1; scanner.Scan(); lineNumber++ {
		key, value, ok, err := parseDotEnvLine(scanner.Text())
		if err != nil {
			logger.Warn("skipping invalid .env entry", "path", path, "line", lineNumber, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			logger.Warn("failed to set env from .env line", "key", key, "line", lineNumber, "error", err)
			continue
		}
		loaded++
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("failed to read .env file", "path", path, "error", err)
	}
	if loaded > 0 {
		logger.Debug("loaded environment from .env", "path", path, "count", loaded)
	}
	return loaded
}

// parseDotEnvLine returns ok=false for blank lines and comments.
func parseDotEnvLine(raw string) (key, value string, ok bool, err error) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false, nil
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false, errors.New("missing '='")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false, errors.New("missing key")
	}
	value = strings.TrimSpace(trimInlineComment(value))
	if strings.HasPrefix(value, `"`) {
		value, err = strconv.Unquote(value)
		if err != nil {
			return "", "", false, err
		}
	} else if len(value) >= 2 && strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'") {
		value = value[1 : len(value)-1]
	}
	return key, value, true, nil
}

func trimInlineComment(value string) string {
	var inSingle, inDouble bool
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '#':
			if !inSingle && !inDouble && (i == 0 || value[i-1] == ' ' || value[i-1] == '\t') {
				return strings.TrimSpace(value[:i])
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		}
	}
	return value
}
