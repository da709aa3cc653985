package log

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/astaxie/beego/logs"
)

type logConfig struct {
	Filename string `json:"filename"`
	Level    int    `json:"level,omitempty"`
	Rotate   bool   `json:"rotate,omitempty"`
	Daily    bool   `json:"daily,omitempty"`
	MaxDays  int64  `json:"maxdays,omitempty"`
	MaxLines int    `json:"maxlines,omitempty"`
	MaxSize  int    `json:"maxsize,omitempty"`
}

var levelMap = map[string]int{
	"emergency": logs.LevelEmergency,
	"alert":     logs.LevelAlert,
	"critical":  logs.LevelCritical,
	"error":     logs.LevelError,
	"warn":      logs.LevelWarn,
	"notice":    logs.LevelNotice,
	"info":      logs.LevelInfo,
	"debug":     logs.LevelDebug,
}

func validLogLevel(strLevel string) (level int, ok bool) {
	level, ok = levelMap[strings.ToLower(strLevel)]
	return
}

// Init configures the process-wide logger with a daily rotated file in dir.
func Init(dir, strLevel string) error {
	logLevel, ok := validLogLevel(strLevel)
	if !ok {
		return fmt.Errorf("mismatch the logLevel %s", strLevel)
	}
	config, err := json.Marshal(logConfig{
		Filename: path.Join(dir, "blockstore.log"),
		Rotate:   true,
		Daily:    true,
		Level:    logLevel,
	})
	if err != nil {
		return err
	}
	return logs.SetLogger(logs.AdapterFile, string(config))
}

func Emergency(format string, v ...interface{}) {
	logs.Emergency(format, v...)
}

func Alert(format string, v ...interface{}) {
	logs.Alert(format, v...)
}

func Critical(format string, v ...interface{}) {
	logs.Critical(format, v...)
}

func Error(format string, v ...interface{}) {
	logs.Error(format, v...)
}

func Warn(format string, v ...interface{}) {
	logs.Warn(format, v...)
}

func Notice(format string, v ...interface{}) {
	logs.Notice(format, v...)
}

func Info(format string, v ...interface{}) {
	logs.Info(format, v...)
}

func Debug(format string, v ...interface{}) {
	logs.Debug(format, v...)
}
