package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"nithronos/nosvol/internal/server"
	"nithronos/nosvol/internal/transport"
)

func main() {
	h := server.NewRouter(server.Deps{
		Logger:   zerolog.Nop(),
		Bridge:   transport.NewBridge(zerolog.Nop(), 1),
		Gatherer: prometheus.NewRegistry(),
	})
	routes, err := server.Routes(h)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	b, _ := json.Marshal(routes)
	fmt.Println(string(b))
}
