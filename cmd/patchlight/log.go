// Copyright (C) 2024 The Patchlight Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package main

import (
	"bufio"
	"fmt"
	"os"
)

// Log writer for the command line tool. Writes to stdout, and optionally to
// a file. Does not add prefixes, or force newlines.
type logWriter struct {
	file   *bufio.Writer
	fileOS *os.File
}

var logTee = &logWriter{}

func (l *logWriter) Write(p []byte) (n int, err error) {
	n, err=os.Stdout.Write(p)
	if err!=nil || l.file==nil { return n, err }
	return l.file.Write(p)
}

// Enables logging to file in addition to stdout
func (l *logWriter) AlsoToFile(fileName string) (err error) {
	if l.file!=nil {
		if err=l.Sync(); err!=nil { return err }
		if err=l.fileOS.Close(); err!=nil { return err }
	}
	l.fileOS, err=os.OpenFile(fileName, os.O_CREATE | os.O_TRUNC | os.O_WRONLY, 0666)
	if err!=nil { return err }
	l.file=bufio.NewWriter(l.fileOS)
	return nil
}

func (l *logWriter) Sync() error {
	if l.file==nil { return nil }
	if err:=l.file.Flush(); err!=nil { return err }
	return l.fileOS.Sync()
}

func logFatalf(format string, args ...interface{}) {
	fmt.Fprintf(logTee, format, args...)
	logTee.Sync()
	os.Exit(1)
}
