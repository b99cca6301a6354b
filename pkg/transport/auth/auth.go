// Package auth resolves registry credentials from an opaque auth file plus
// environment variables, grounded on containers/image's pkg/docker/config,
// adapted from Docker's ~/.docker/config.json auths map to the smaller set
// of registries this core's transports talk to.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/docker/docker-credential-helpers/client"
	"github.com/docker/docker-credential-helpers/credentials"
	"github.com/sirupsen/logrus"
)

// entry is one value from an auth file's "auths" map.
type entry struct {
	Auth string `json:"auth"` // base64("user:pass")
}

// file is the on-disk shape of an auth file (spec §6: "format matching the
// native container-registry auth file; the code treats it as opaque bytes").
type file struct {
	Auths       map[string]entry  `json:"auths"`
	CredHelpers map[string]string `json:"credHelpers,omitempty"`
}

// BearerHeader returns the Authorization header value for host, preferring:
//  1. HF_TOKEN, when host is a HuggingFace host (spec §6 env var table)
//  2. a credential helper registered for host in the auth file
//  3. a basic-auth entry for host in the auth file's "auths" map
//
// Returns "" with no error if no credential is configured for host.
func BearerHeader(authFilePath, host string) (string, error) {
	if strings.Contains(host, "huggingface.co") {
		if tok := os.Getenv("HF_TOKEN"); tok != "" {
			return "Bearer " + tok, nil
		}
	}

	if authFilePath == "" {
		return "", nil
	}
	data, err := os.ReadFile(authFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading auth file %s: %w", authFilePath, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("parsing auth file %s: %w", authFilePath, err)
	}

	if helperName, ok := f.CredHelpers[host]; ok {
		user, secret, err := client.Get(client.NewShellProgramFunc("docker-credential-"+helperName), host)
		if err != nil {
			if credentials.IsErrCredentialsNotFound(err) {
				logrus.Debugf("no credentials for %s in helper %s", host, helperName)
				return "", nil
			}
			return "", fmt.Errorf("invoking credential helper %s for %s: %w", helperName, host, err)
		}
		return basicAuthHeader(user, secret), nil
	}

	if e, ok := f.Auths[host]; ok && e.Auth != "" {
		decoded, err := base64.StdEncoding.DecodeString(e.Auth)
		if err != nil {
			return "", fmt.Errorf("decoding auth entry for %s: %w", host, err)
		}
		user, secret, found := strings.Cut(string(decoded), ":")
		if !found {
			return "", nil
		}
		return basicAuthHeader(user, secret), nil
	}

	return "", nil
}

func basicAuthHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}
