// Copyright (C) 2024 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Command docker-healthcheck probes the /healthz endpoint of a stackload
// mock target and exits non-zero when it is not healthy.
package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const targetURL = "http://127.0.0.1:3000/healthz"

func main() {
	pflag.StringP("url", "u", targetURL, "health endpoint to test")
	pflag.BoolP("verbose", "v", false, "Be verbose")
	pflag.BoolP("tls-skip-verify", "t", false, "Skip TLS server certificate verification")
	pflag.Parse()

	_ = viper.BindPFlags(pflag.CommandLine)

	verbose := viper.GetBool("verbose")
	url := viper.GetString("url")

	if verbose {
		fmt.Println("Checking", url)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: viper.GetBool("tls-skip-verify")},
	}

	err := check(&http.Client{Timeout: 10 * time.Second, Transport: transport}, url)
	if err != nil {
		if verbose {
			fmt.Println("Test FAILED:", err)
		}

		os.Exit(1)
	}

	if verbose {
		fmt.Println("Test OK")
	}
}

// check expects HTTP 200 with a JSON body whose status is "ok".
func check(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if status := jsoniter.Get(content, "status").ToString(); status != "ok" {
		return fmt.Errorf("unexpected health status %q", status)
	}

	return nil
}
