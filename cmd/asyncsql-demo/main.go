// Command asyncsql-demo connects to a MySQL or PostgreSQL backend, runs one
// query, prints the result, then serves the diagnostics endpoints until
// interrupted. It exists to exercise the library end to end, mirroring the
// wiring shape of the teacher's cmd/dbbouncer/main.go.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/asyncsql/asyncsql"
	"github.com/asyncsql/asyncsql/diagnostics"

	_ "github.com/asyncsql/asyncsql/mysqlclient"
	_ "github.com/asyncsql/asyncsql/pgclient"
)

func main() {
	url := flag.String("url", "adbcjgo:mysql://127.0.0.1:3306/demo", "database URL (adbcjgo:mysql://host:port/db or adbcjgo:postgresql://host:port/db)")
	user := flag.String("user", "root", "username")
	password := flag.String("password", "", "password")
	query := flag.String("query", "SELECT 1", "query to run once connected")
	diagAddr := flag.String("diag-addr", "127.0.0.1:9091", "diagnostics server bind address")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	mgr, err := asyncsql.NewManager(*url, *user, *password)
	if err != nil {
		log.Fatalf("building connection manager: %v", err)
	}

	diag := diagnostics.NewServer(mgr)
	if err := diag.Start(*diagAddr); err != nil {
		log.Fatalf("starting diagnostics server: %v", err)
	}

	conn, err := mgr.Connect().Get(nil)
	if err != nil {
		log.Fatalf("connecting to %s: %v", *url, err)
	}
	log.Printf("connected to %s", *url)

	rs, err := conn.ExecuteQuery(*query).Get(nil)
	if err != nil {
		log.Fatalf("query %q failed: %v", *query, err)
	}
	fmt.Printf("columns: %v\n", rs.Fields)
	for _, row := range rs.Rows {
		fmt.Println(row)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %s, shutting down", sig)

	if _, err := conn.Close(false).Get(nil); err != nil {
		log.Printf("closing connection: %v", err)
	}
	if _, err := mgr.Close(false).Get(nil); err != nil {
		log.Printf("closing manager: %v", err)
	}
	if err := diag.Stop(); err != nil {
		log.Printf("stopping diagnostics server: %v", err)
	}
	log.Printf("stopped")
}
