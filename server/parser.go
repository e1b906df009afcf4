// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/merklekv/merklekv/kv"
)

// parseLine turns one CRLF-stripped command line into a kv.Command.
// Command names are case-insensitive; keys and values are not.
func parseLine(line string) (kv.Command, error) {
	name, rest := splitFirstToken(line)
	switch strings.ToUpper(name) {
	case "GET":
		return parseSingleKey(kv.KindGet, rest)
	case "DEL":
		return parseSingleKey(kv.KindDel, rest)
	case "SET":
		return parseKeyAndValue(kv.KindSet, rest)
	case "APPEND":
		return parseKeyAndValue(kv.KindAppend, rest)
	case "PREPEND":
		return parseKeyAndValue(kv.KindPrepend, rest)
	case "INC":
		return parseNumeric(kv.KindInc, rest)
	case "DEC":
		return parseNumeric(kv.KindDec, rest)
	case "MGET":
		return parseMGet(rest)
	case "MSET":
		return parseMSet(rest)
	case "TRUNCATE":
		return kv.Command{Kind: kv.KindTruncate}, nil
	case "PING":
		return kv.Command{Kind: kv.KindPing}, nil
	case "HEALTH":
		return kv.Command{Kind: kv.KindHealth}, nil
	case "VERSION":
		return kv.Command{Kind: kv.KindVersion}, nil
	case "INFO":
		return kv.Command{Kind: kv.KindInfo}, nil
	case "STATS":
		return kv.Command{Kind: kv.KindStats}, nil
	case "FLUSH":
		return kv.Command{Kind: kv.KindFlush}, nil
	case "SHUTDOWN":
		return kv.Command{Kind: kv.KindShutdown}, nil
	case "":
		return kv.Command{}, errEmptyLine
	default:
		return kv.Command{}, fmt.Errorf("%w: unknown command %q", errBadSyntax, name)
	}
}

// splitFirstToken returns the first whitespace-delimited token of line and
// everything after the single separating space (not re-trimmed), so a
// value's own leading/trailing spaces survive.
func splitFirstToken(line string) (first, rest string) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return line, ""
	}
	return line[:i], line[i+1:]
}

func parseSingleKey(kind kv.Kind, rest string) (kv.Command, error) {
	key := strings.TrimRight(rest, " ")
	if err := kv.ValidateKey([]byte(key)); err != nil {
		return kv.Command{}, err
	}
	return kv.Command{Kind: kind, Key: []byte(key)}, nil
}

// parseKeyAndValue splits rest into a key token and the remainder of the
// line as the value verbatim: the value may itself contain spaces and
// tabs, so only the key is token-split off.
func parseKeyAndValue(kind kv.Kind, rest string) (kv.Command, error) {
	key, value := splitFirstToken(rest)
	if err := kv.ValidateKey([]byte(key)); err != nil {
		return kv.Command{}, err
	}
	if err := kv.ValidateValue([]byte(value)); err != nil {
		return kv.Command{}, err
	}
	return kv.Command{Kind: kind, Key: []byte(key), Value: []byte(value)}, nil
}

func parseNumeric(kind kv.Kind, rest string) (kv.Command, error) {
	key, amountStr := splitFirstToken(rest)
	amountStr = strings.TrimRight(amountStr, " ")
	if err := kv.ValidateKey([]byte(key)); err != nil {
		return kv.Command{}, err
	}
	cmd := kv.Command{Kind: kind, Key: []byte(key)}
	if amountStr != "" {
		n, err := strconv.ParseInt(amountStr, 10, 64)
		if err != nil {
			return kv.Command{}, fmt.Errorf("%w: %s", errBadSyntax, amountStr)
		}
		cmd.Amount = n
		cmd.HasAmount = true
	}
	return cmd, nil
}

func parseMGet(rest string) (kv.Command, error) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return kv.Command{}, errEmptyLine
	}
	keys := make([][]byte, len(fields))
	for i, f := range fields {
		if err := kv.ValidateKey([]byte(f)); err != nil {
			return kv.Command{}, err
		}
		keys[i] = []byte(f)
	}
	return kv.Command{Kind: kv.KindMGet, Keys: keys}, nil
}

func parseMSet(rest string) (kv.Command, error) {
	fields := strings.Fields(rest)
	if len(fields) == 0 || len(fields)%2 != 0 {
		return kv.Command{}, kv.ErrOddArity
	}
	pairs := make([]kv.Pair, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		if err := kv.ValidateKey([]byte(fields[i])); err != nil {
			return kv.Command{}, err
		}
		if err := kv.ValidateValue([]byte(fields[i+1])); err != nil {
			return kv.Command{}, err
		}
		pairs = append(pairs, kv.Pair{Key: []byte(fields[i]), Value: []byte(fields[i+1])})
	}
	return kv.Command{Kind: kv.KindMSet, Pairs: pairs}, nil
}
