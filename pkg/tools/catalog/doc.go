// Package catalog parses declarative tool-provider configuration into
// normalized ProviderDescriptors.
//
// Two document shapes are accepted and may be mixed in one file:
//
//	mcpServers:            # common MCP client format, process providers
//	  files:
//	    command: npx
//	    args: ["-y", "@modelcontextprotocol/server-filesystem", "${HOME}/docs"]
//	    env: {LOG_LEVEL: "${FILES_LOG_LEVEL}"}
//	    disabled: false
//
//	providers:             # explicit format, process or http providers
//	  weather:
//	    type: http
//	    url: https://api.weather.example/v1/current
//	    method: GET
//	    parameter_mapping: {city: query.q}
//	    authentication: {type: api_key_header, secret_env_variable: WEATHER_KEY}
//	    tool:
//	      name: get_weather
//	      input_schema: {type: object, properties: {city: {type: string}}, required: [city]}
//
// Loading fails soft per entry: a malformed entry is skipped and reported
// in LoadResult.Skipped while the rest load normally. A provider name that
// appears twice fails the whole load.
package catalog
