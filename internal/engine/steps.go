package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Evoltonnac/quota-board/internal/auth"
	"github.com/Evoltonnac/quota-board/pkg/api"
)

var (
	ErrHTTPStepURL     = errors.New("http step requires a url")
	ErrHTTPStatus      = errors.New("http request failed")
	ErrScriptsDisabled = errors.New("script steps are disabled")
	ErrScriptCode      = errors.New("script step requires code")
)

// stepHTTP performs an HTTP request and publishes three outputs: the
// decoded JSON body under http_response, the raw body under raw_data,
// and the response headers under headers
func (x *Executor) stepHTTP(ctx context.Context, args api.Args) (api.Args, error) {
	url := args.GetString("url", "")
	if url == "" {
		return nil, ErrHTTPStepURL
	}
	method := strings.ToUpper(args.GetString("method", http.MethodGet))

	req := x.client.R().
		SetContext(ctx).
		SetHeaders(args.GetStringMap("headers")).
		SetQueryParams(args.GetStringMap("params"))

	if body, ok := args["body"]; ok {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf(
			"%w: %s %s: %s", ErrHTTPStatus, method, url, resp.Status(),
		)
	}

	var decoded any
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		decoded = nil
	}

	return api.Args{
		"http_response": decoded,
		"raw_data":      resp.String(),
		"headers":       flattenHeaders(resp.Header()),
	}, nil
}

// stepOAuth ensures a valid access token exists for the source. A held
// token is refreshed when stale and published under the step's output
// key; a missing token suspends the flow with an oauth_start
// interaction so the user can drive the authorization redirect
func (x *Executor) stepOAuth(
	ctx context.Context, def *api.SourceDefinition, step *api.FlowStep,
	args api.Args,
) (api.Args, error) {
	outKey := firstOutputKey(step, "access_token")

	if handler := x.auth.OAuthHandler(def.ID); handler != nil {
		handler.EnsureValidToken(ctx)
		if token := handler.AccessToken(); token != "" {
			return api.Args{outKey: token}, nil
		}
	}

	bundle, err := x.secrets.GetAll(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	if token := auth.ResolveAccessToken(bundle["access_token"]); token != "" {
		return api.Args{outKey: token}, nil
	}

	fields := missingCredentialFields(args, bundle)
	message := fmt.Sprintf("Authorization required for %s.", def.Name)
	if len(fields) > 0 {
		message += " Please provide the client credentials first."
	}

	data := map[string]any{
		"auth_url": fmt.Sprintf("/api/oauth/authorize/%s", def.ID),
	}
	if docURL := args.GetString("doc_url", ""); docURL != "" {
		data["doc_url"] = docURL
	}

	return nil, &auth.RequiredSecretError{
		SourceID:    def.ID,
		StepID:      step.ID,
		Interaction: api.InteractOAuthStart,
		Fields:      fields,
		Message:     message,
		Data:        data,
	}
}

// stepAPIKey reads an API key from the secrets store and publishes it
// under the step's output key. A missing key suspends the flow with an
// input_text interaction
func (x *Executor) stepAPIKey(
	ctx context.Context, def *api.SourceDefinition, step *api.FlowStep,
	args api.Args,
) (api.Args, error) {
	secretKey := api.Name(args.GetString("secret_key", "api_key"))

	val, ok, err := x.secrets.Get(ctx, def.ID, secretKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if s, isStr := val.(string); !isStr || s != "" {
			outKey := firstOutputKey(step, secretKey)
			return api.Args{outKey: val}, nil
		}
	}

	return nil, &auth.RequiredSecretError{
		SourceID:    def.ID,
		StepID:      step.ID,
		Interaction: api.InteractInputText,
		Fields: []api.InteractionField{{
			Key:         secretKey,
			Label:       args.GetString("label", "API Key"),
			Type:        "password",
			Description: args.GetString("description", ""),
			Required:    true,
		}},
		Message: args.GetString("message",
			fmt.Sprintf("Missing API Key for %s", def.Name)),
	}
}

// stepExtract evaluates an expression against a previously produced
// value. Misses yield no output; they never fail the flow
func (x *Executor) stepExtract(
	step *api.FlowStep, args api.Args,
) (api.Args, error) {
	source := args["source"]
	expr := args.GetString("expr", "")
	outKey := firstOutputKey(step, "value")

	var (
		val any
		ok  bool
	)
	switch kind := args.GetString("type", "jsonpath"); kind {
	case "key":
		val, ok = extractKey(source, expr)
	default:
		val, ok = extractJSONPath(source, expr)
	}

	if !ok {
		return api.Args{}, nil
	}
	return api.Args{outKey: val}, nil
}

// stepScript runs a sandboxed Lua script against the flow context and
// the previous step's outputs
func (x *Executor) stepScript(
	step *api.FlowStep, args api.Args, flowCtx, prev map[api.Name]any,
) (api.Args, error) {
	if x.lua == nil {
		return nil, ErrScriptsDisabled
	}
	code := args.GetString("code", "")
	if code == "" {
		return nil, fmt.Errorf("%w: %s", ErrScriptCode, step.ID)
	}

	inputs := make(api.Args, len(flowCtx)+len(prev))
	for k, v := range flowCtx {
		inputs[k] = v
	}
	for k, v := range prev {
		inputs[k] = v
	}

	return x.lua.Execute(step.ID, code, inputs, sortedOutputKeys(step))
}

// missingCredentialFields builds input fields for OAuth client
// credentials that are neither configured on the step nor stored
func missingCredentialFields(
	args api.Args, bundle map[api.Name]any,
) []api.InteractionField {
	var fields []api.InteractionField
	for _, key := range []api.Name{"client_id", "client_secret"} {
		if args.GetString(key, "") != "" {
			continue
		}
		if s, ok := bundle[key].(string); ok && s != "" {
			continue
		}
		fieldType := "text"
		if key == "client_secret" {
			fieldType = "password"
		}
		fields = append(fields, api.InteractionField{
			Key:      key,
			Label:    string(key),
			Type:     fieldType,
			Required: true,
		})
	}
	return fields
}

func flattenHeaders(h http.Header) map[string]string {
	res := make(map[string]string, len(h))
	for k, vals := range h {
		if len(vals) > 0 {
			res[k] = vals[0]
		}
	}
	return res
}
