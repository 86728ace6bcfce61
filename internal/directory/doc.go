/*
Package directory provides the LDAP binding for adimport.

Everything that talks wire protocol to the directory server lives here; the
engine above it only sees small interfaces over this package.

# Connection Management

The Client interface provides connection pooling with automatic failover:

  - SRV-based domain controller discovery (_ldaps, _ldap, _gc)
  - Connection pooling with health checks and bind-age tracking
  - Automatic retry with exponential backoff
  - Simple bind, Kerberos/GSSAPI and external (certificate) authentication

# Identifier Resolution

The Resolver converts any supported object identifier to a Distinguished
Name:

  - Supports DN, GUID, SID, UPN and SAM account name formats
  - Automatic format detection
  - Positive resolutions are cached; mutating callers invalidate the cache

# Path Filter Evaluation

The Evaluator answers /Type[Attribute='Value'] queries, mapping object type
names to LDAP filter clauses and reporting matching DNs. Searches are capped
at two entries where callers only distinguish zero, one and many matches.

# Change Submission

The Submitter executes engine change requests as LDAP add, modify and delete
operations. Creates compose the DN from the type's naming attribute and the
configured container; a modify that replaces the naming attribute becomes a
rename. A dry-run submitter plans every request without writing.

# Active Directory Specifics

objectGUID values are stored mixed-endian and searched in binary form;
objectSid values decode from their binary layout. DN attribute values follow
RFC 4514 escaping, with attribute type descriptors normalized to uppercase.

# Error Handling

The package provides structured error handling through LDAPError:

  - Categorized errors (connection, authentication, validation, etc.)
  - Retryable error classification
  - Server message integration
*/
package directory
