// Command ussd-console is a terminal USSD simulator: it drives a
// turn.Handler in-process the same way console/console.go drove the
// source's ussd.Router, so a menu tree can be exercised without a phone
// or an aggregator in front of it.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"unicode"

	"github.com/google/uuid"

	"github.com/vservices/ussd-gateway/internal/applog"
	"github.com/vservices/ussd-gateway/internal/config"
	"github.com/vservices/ussd-gateway/internal/kv"
	"github.com/vservices/ussd-gateway/internal/menu"
	"github.com/vservices/ussd-gateway/internal/modules"
	"github.com/vservices/ussd-gateway/internal/registry"
	"github.com/vservices/ussd-gateway/internal/session"
	"github.com/vservices/ussd-gateway/internal/turn"
	"github.com/vservices/ussd-gateway/internal/upstream"
)

func main() {
	msisdnPtr := flag.String("msisdn", "254700111222", "MSISDN in international format (10..15 digits)")
	shortcodePtr := flag.String("shortcode", "", "Shortcode to dial (default: the bank's configured one)")
	flag.Parse()

	if len(*msisdnPtr) < 10 || len(*msisdnPtr) > 15 {
		fmt.Fprintf(os.Stderr, "--msisdn=%s must be 10..15 digits\n", *msisdnPtr)
		os.Exit(1)
	}
	for _, c := range *msisdnPtr {
		if !unicode.IsDigit(c) {
			fmt.Fprintf(os.Stderr, "--msisdn=%s must be 10..15 digits\n", *msisdnPtr)
			os.Exit(1)
		}
	}

	log := applog.New("info")
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %+v\n", err)
		os.Exit(1)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Warn().Err(err).Msg("falling back to UTC")
	}

	ctx := context.Background()
	kvStore, err := kv.NewRedisStore(ctx, kv.Config{Addr: cfg.Redis.Addr(), Password: cfg.Redis.Password})
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %+v\n", err)
		os.Exit(1)
	}

	sessions := session.New(kvStore, cfg.Redis.SessionPrefix, cfg.Redis.TTL, loc)

	upstreamClient := upstream.New(cfg.Upstream.APIURL, upstream.Config{
		BankID:    cfg.Bank.ID,
		BankName:  cfg.Bank.Name,
		Country:   cfg.Bank.Country,
		TrxSource: cfg.Bank.TrxSource,
	}, cfg.Upstream.Timeout, cfg.Upstream.ConnectTimeout, log)

	reg := registry.New()
	_ = reg.Discover("pin.", modules.NewPIN(log))
	_ = reg.Discover("balance.", modules.NewBalance(log))
	_ = reg.Discover("statement.", modules.NewStatement(log))
	_ = reg.Discover("airtime.", modules.NewAirtime(log, nil))

	nodes, err := menu.LoadDir(cfg.MenuDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "menus: %+v\n", err)
		os.Exit(1)
	}
	engine := menu.New(nodes, reg, upstreamClient, menu.NewCustomValidators(), log)
	handler := turn.New(sessions, engine, upstreamClient, cfg.Redis.TTL.Seconds(), log)

	shortcode := *shortcodePtr
	if shortcode == "" {
		shortcode = cfg.Bank.Shortcode
	}

	run(handler, *msisdnPtr, shortcode)
}

// run hosts the read-eval-print loop: one session id per "call", and a new
// call is dialled once a call ends. A blank line is sent as empty input,
// which re-renders the current menu. Ctrl-C, end of input, or typing "exit"
// quits the simulator entirely.
func run(handler *turn.Handler, msisdn, shortcode string) {
	userInput := make(chan string)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				userInput <- "exit"
				return
			}
			userInput <- strings.TrimRight(line, "\n")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT)
	go func() {
		<-sig
		userInput <- "exit"
	}()

	callNr := 0
	for {
		callNr++
		fmt.Printf("\n===== U S S D - S I M U L A T O R =====\n")
		fmt.Printf("    ( call: %d, msisdn: %s )\n", callNr, msisdn)
		fmt.Printf("---------------------------------------\n")

		sessionID := uuid.New().String()
		ctx := context.Background()
		frame, err := handler.Handle(ctx, turn.Request{MSISDN: msisdn, SessionID: sessionID, Shortcode: shortcode})
		if err != nil {
			fmt.Printf("  ERROR: %+v\n", err)
			continue
		}
		printFrame(frame)

		for frame.Action != "end" {
			fmt.Print("USSD > ")
			input := <-userInput
			if input == "exit" {
				fmt.Println("Terminated.")
				return
			}
			frame, err = handler.Handle(ctx, turn.Request{MSISDN: msisdn, SessionID: sessionID, Shortcode: shortcode, Input: input})
			if err != nil {
				fmt.Printf("  ERROR: %+v\n", err)
				break
			}
			printFrame(frame)
		}
	}
}

func printFrame(frame menu.Frame) {
	fmt.Printf("\n%s\n", frame.Message)
	fmt.Printf("-----------------------------(action:%s)--\n", frame.Action)
}
