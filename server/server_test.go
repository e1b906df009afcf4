package server

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/merklekv/merklekv/bus"
	"github.com/merklekv/merklekv/executor"
	"github.com/merklekv/merklekv/identity"
	"github.com/merklekv/merklekv/store"
)

func startTestServer(t *testing.T) (net.Addr, func()) {
	t.Helper()
	exec := executor.New(store.New(), identity.NewSequencer("n1"), bus.New(), "test")
	srv := New(exec, nil, nil, 0)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	return ln.Addr(), func() { ln.Close() }
}

func sendAndRead(t *testing.T, conn net.Conn, lines ...string) []string {
	t.Helper()
	for _, l := range lines {
		_, err := conn.Write([]byte(l + "\r\n"))
		require.NoError(t, err)
	}
	r := bufio.NewReader(conn)
	out := make([]string, 0, len(lines))
	for range lines {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		out = append(out, strings.TrimRight(line, "\r\n"))
	}
	return out
}

func TestBasicWriteReadDelete(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	out := sendAndRead(t, conn,
		"SET user:100 jane",
		"GET user:100",
		"DEL user:100",
		"DEL user:100",
	)
	require.Equal(t, []string{"OK", "VALUE jane", "DELETED", "NOT_FOUND"}, out)
}

func TestEmptyValueAndTabs(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	out := sendAndRead(t, conn,
		"SET k1 ",
		"GET k1",
		"SET k2 a\tb\tc",
		"GET k2",
	)
	require.Equal(t, []string{"OK", `VALUE ""`, "OK", "VALUE a\tb\tc"}, out)
}

func TestNumeric(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	out := sendAndRead(t, conn,
		"SET n 10",
		"INC n",
		"INC n 5",
		"DEC n 20",
		"SET n foo",
		"INC n",
	)
	require.Equal(t, []string{"OK", "11", "16", "-4", "OK", "ERROR not numeric"}, out)
}

// TestOversizedLineClosesConnection checks that an oversized line gets
// ERROR line too long and the connection closes, but the server itself
// stays healthy for the next connection.
func TestOversizedLineClosesConnection(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	big := "SET big " + strings.Repeat("x", MaxLineBytes+1) + "\r\n"
	_, err = conn.Write([]byte(big))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "ERROR line too long", strings.TrimRight(line, "\r\n"))

	_, err = r.ReadByte()
	require.ErrorIs(t, err, io.EOF)

	// A fresh connection still works.
	conn2, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer conn2.Close()
	out := sendAndRead(t, conn2, "PING")
	require.Equal(t, []string{"PONG"}, out)
}
