// cmd/dccstation/main.go
// dccstation is the test station's firmware-core binary: it wires the
// Supervisor, exposes the RPC Dispatcher over UART and/or USB, serves the
// gRPC diagnostics service, and serves the gin health/status HTTP API —
// grounded on the teacher's cmd/driver/hasher-server/main.go (flag-driven
// bring-up, grpc.NewServer + reflection.Register, graceful SIGINT/SIGTERM
// shutdown).
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gousb"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/nmradcc/DCC-tester/internal/diag"
	"github.com/nmradcc/DCC-tester/internal/httpapi"
	"github.com/nmradcc/DCC-tester/internal/stationconfig"
	"github.com/nmradcc/DCC-tester/internal/supervisor"
	"github.com/nmradcc/DCC-tester/internal/transport"
)

var (
	grpcPort      = flag.Int("grpc-port", 8889, "gRPC diagnostics server port")
	forceDefaults = flag.Bool("force-defaults", false, "skip flash restore, always boot to compiled defaults")
	enableUART    = flag.Bool("uart", true, "serve the RPC line protocol over UART")
	enableUSB     = flag.Bool("usb", false, "serve the RPC line protocol over direct USB")
)

func main() {
	flag.Parse()
	cfg := stationconfig.Default()

	sv, err := supervisor.New(supervisor.Deps{ForceDefaults: *forceDefaults || cfg.ForceDefaults})
	if err != nil {
		log.Fatalf("supervisor init: %v", err)
	}

	if *enableUART {
		srv, closeFn, err := transport.OpenUART(transport.UARTConfig{
			Device:      cfg.UARTDevice,
			ReadTimeout: cfg.UARTReadTimeout,
		}, sv.Dispatcher.HandleLine)
		if err != nil {
			log.Printf("UART transport disabled: %v", err)
		} else {
			defer closeFn()
			go func() {
				if err := srv.Serve(); err != nil {
					log.Printf("UART transport stopped: %v", err)
				}
			}()
			log.Printf("serving RPC over UART %s", cfg.UARTDevice)
		}
	}

	if *enableUSB {
		srv, closeFn, err := transport.OpenUSB(transport.USBConfig{
			VendorID: gousb.ID(cfg.USBVendorID), ProductID: gousb.ID(cfg.USBProductID),
			ConfigNum: 1, IfaceNum: 0, AltNum: 0,
			EndpointOut: 1, EndpointIn: 0x81,
			ReadTimeout: 500 * time.Millisecond,
		}, sv.Dispatcher.HandleLine)
		if err != nil {
			log.Printf("USB transport disabled: %v", err)
		} else {
			defer closeFn()
			go func() {
				if err := srv.Serve(); err != nil {
					log.Printf("USB transport stopped: %v", err)
				}
			}()
			log.Printf("serving RPC over USB")
		}
	}

	grpcServer := grpc.NewServer()
	diag.Register(grpcServer, diag.NewServer(sv))
	reflection.Register(grpcServer)
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", *grpcPort))
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go func() {
		log.Printf("diagnostics gRPC server listening on :%d", *grpcPort)
		if err := grpcServer.Serve(listener); err != nil {
			log.Printf("grpc server stopped: %v", err)
		}
	}()

	router := httpapi.NewRouter(time.Now(), httpapi.Status{
		CSRunning:  sv.CS.Running,
		DecRunning: sv.Dec.Running,
	})
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.Printf("HTTP health API listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	sv.Shutdown()
	grpcServer.GracefulStop()
	_ = httpSrv.Close()
}
