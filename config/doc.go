// Package config loads the settings of the docstore command.
//
// Settings come from three layers, later ones overriding earlier ones:
//
//  1. Built-in defaults ([Default]).
//  2. An optional YAML file.
//  3. Environment variables.
//
// The result is validated and returned by value. Nothing is kept in
// package state; callers pass the loaded [Config] to whatever needs it.
//
// Environment variables:
//
//	DOCSTORE_BACKEND            dynamodb, postgres or memory
//	DOCSTORE_SITE               default site id
//	DOCSTORE_TABLE              DynamoDB table name
//	DOCSTORE_DYNAMODB_ENDPOINT  DynamoDB endpoint override
//	AWS_REGION                  DynamoDB region
//	DOCSTORE_POSTGRES_HOST      Postgres host
//	DOCSTORE_POSTGRES_PORT      Postgres port
//	DOCSTORE_POSTGRES_USER      Postgres user
//	DOCSTORE_POSTGRES_PASSWORD  Postgres password
//	DOCSTORE_POSTGRES_DATABASE  Postgres database
//	DOCSTORE_POSTGRES_SSLMODE   Postgres SSL mode
//	DOCSTORE_POSTGRES_TABLE     Postgres items table
//	DOCSTORE_LOG_LEVEL          debug, info, warn or error
//	DOCSTORE_LOG_FORMAT         json or console
//	DOCSTORE_STRICT_DATES       reject unparsable stored dates
//	DOCSTORE_CIRCUIT_BREAKER    guard store calls with a circuit breaker
package config
