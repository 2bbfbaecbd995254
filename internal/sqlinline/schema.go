package sqlinline

// QEnsureSchema creates the optional persistence tables. It runs once at
// startup when DATABASE_URL is set.
const QEnsureSchema = `--sql 505f44a3-c37c-46b6-9409-c30571c58a63
create table if not exists quota_records (
    user_id text primary key,
    record jsonb not null,
    updated_at timestamptz not null default now()
);
create table if not exists premium_principals (
    handle text primary key,
    secret_hash text not null,
    display_name text not null default '',
    email text not null default '',
    expires_at timestamptz not null,
    revoked_at timestamptz,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
create table if not exists purchase_requests (
    id uuid primary key,
    user_id text not null,
    first_name text not null,
    last_name text not null,
    email text not null,
    phone text not null,
    payment_method text not null,
    amount_usd integer not null,
    period_days integer not null,
    created_at timestamptz not null default now()
);
create table if not exists integration_tokens (
    id uuid primary key default gen_random_uuid(),
    provider text not null unique,
    token text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`
