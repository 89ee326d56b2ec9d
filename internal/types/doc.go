/*
Package types defines the DTOs shared by the restcall client, CLI and stores.

# Overview

The types package provides shared type definitions for:
  - Route templates declared by request DTOs
  - The structured error envelope (ResponseStatus, ResponseError, ErrorResponse)
  - The access-token refresh exchange (GetAccessToken, GetAccessTokenResponse)
  - Profiles, TLS and OAuth settings
  - Persisted session tokens and call history

# Routes

A Route is a path template with {Variable} placeholders, the verbs it accepts and a
priority. Request DTOs declare routes through a Routes method:

	type GetWidget struct {
		Id int `json:"id"`
	}

	func (GetWidget) Routes() []types.Route {
		return []types.Route{types.NewRoute("/widgets/{Id}", "GET")}
	}

An empty verb list accepts any verb, as does the ANY marker.

# Error Envelope

Services report failures with a responseStatus object:

	{
	  "responseStatus": {
	    "errorCode": "NotFound",
	    "message": "no such widget",
	    "errors": [{"errorCode": "NotEmpty", "fieldName": "Name", "message": "required"}]
	  }
	}

Response DTOs that embed it implement HasResponseStatus so the client can decode error
bodies straight into the expected response type. Other response types can be made known
by name with RegisterResponseType.

# Profiles

Profile:
	{
	  "name": "dev",
	  "baseUrl": "https://api.example.com",
	  "basePath": "/api/",
	  "userName": "admin",
	  "password": "secret",
	  "refreshTokenUri": "https://auth.example.com/access-token",
	  "timeout": "30s"
	}

# Field Tags

All types use JSON and YAML tags; omitempty keeps serialized data clean.
*/
package types
