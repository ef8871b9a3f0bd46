package util

import (
	"fmt"
	"log"
	"os"
)

type Logger interface {
	LogInfo(data string)
	LogWarning(data string)
	LogError(data string)
}

type Log struct {
	WarningLogger *log.Logger
	InfoLogger    *log.Logger
	ErrorLogger   *log.Logger

	file *os.File
}

// NewLogger opens (or appends to) a log file.
func NewLogger(fileName string) (*Log, error) {
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, err
	}

	return &Log{
		InfoLogger:    log.New(logFile, "INFO: ", log.Ldate|log.Ltime),
		WarningLogger: log.New(logFile, "WARNING: ", log.Ldate|log.Ltime),
		ErrorLogger:   log.New(logFile, "ERROR: ", log.Ldate|log.Ltime),
		file:          logFile,
	}, nil
}

// NewWorkerLogger opens the per-worker log file for the given worker
// index. The index is handed down by the dispatcher, it is not a global
// counter.
func NewWorkerLogger(index int) (*Log, error) {
	return NewLogger(fmt.Sprintf("fibd-%d.log", index))
}

func (l *Log) LogInfo(data string) {
	l.InfoLogger.Println(data)
}

func (l *Log) LogWarning(data string) {
	l.WarningLogger.Println(data)
}

func (l *Log) LogError(data string) {
	l.ErrorLogger.Println(data)
}

func (l *Log) Close() error {
	return l.file.Close()
}
