// Command httpdrive drives a single HTTP/1.1 call through the agent package
// and prints the response status, headers, and body.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atsika/httpdrive"
	"github.com/atsika/httpdrive/agent"
)

func main() {
	urlFlag := flag.String("url", "", "The target URL (required)")
	methodFlag := flag.String("method", "GET", "The HTTP method")
	dataFlag := flag.String("data", "", "Request body (sent as-is)")
	maxRedirectsFlag := flag.Int("max-redirects", httpdrive.DefaultMaxRedirects, "Maximum redirects to follow")
	timeoutFlag := flag.Duration("timeout", 30*time.Second, "Global call timeout")
	connectTimeoutFlag := flag.Duration("connect-timeout", 10*time.Second, "Connection-open timeout")
	insecureFlag := flag.Bool("insecure", false, "Skip TLS certificate verification")
	verboseFlag := flag.Bool("v", false, "Enable phase-transition debug tracing")

	flag.Usage = printUsage
	flag.Parse()

	urlStr := *urlFlag
	if urlStr == "" {
		log.Fatalf("Missing required -url flag")
	}
	method := strings.ToUpper(*methodFlag)

	var logger *logrus.Logger
	if *verboseFlag {
		logger = logrus.New()
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := httpdrive.NewAgentConfig(
		httpdrive.WithMaxRedirects(*maxRedirectsFlag),
		httpdrive.WithGlobalTimeout(*timeoutFlag),
		httpdrive.WithTimeouts(httpdrive.Timeouts{
			Global:         *timeoutFlag,
			Resolver:       *connectTimeoutFlag,
			OpenConnection: *connectTimeoutFlag,
			SendRequest:    *timeoutFlag,
			SendBody:       *timeoutFlag,
			Await100:       2 * time.Second,
			RecvResponse:   *timeoutFlag,
			RecvBody:       *timeoutFlag,
		}),
		httpdrive.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to build config: %v", err)
	}

	var opts []agent.Option
	if *insecureFlag {
		opts = append(opts, agent.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}))
	}

	a := agent.New(cfg, opts...)
	defer a.Close()

	var body io.Reader
	var contentLength int64 = -1
	if *dataFlag != "" {
		body = strings.NewReader(*dataFlag)
		contentLength = int64(len(*dataFlag))
	}

	header := make(http.Header)
	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag+5*time.Second)
	defer cancel()

	resp, err := a.Do(ctx, method, urlStr, header, body, contentLength)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	fmt.Printf("%s %s\n", resp.Proto, resp.Status)
	for name, values := range resp.Header {
		for _, v := range values {
			fmt.Printf("%s: %s\n", name, v)
		}
	}
	fmt.Println()

	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		log.Fatalf("Reading response body: %v", err)
	}
}

func printUsage() {
	fmt.Println("httpdrive - minimal HTTP/1.1 client driven by a sans-I/O call driver")
	fmt.Println("Usage:")
	fmt.Println("  httpdrive -url <url> [-method <method>] [-data <body>] [-max-redirects <n>]")
	fmt.Println("            [-timeout <duration>] [-connect-timeout <duration>] [-insecure] [-v]")
	fmt.Println()
	fmt.Println("Example:")
	fmt.Println("  httpdrive -url https://example.com/")
	fmt.Println("  httpdrive -url https://example.com/api -method POST -data '{\"k\":1}' -v")
}
