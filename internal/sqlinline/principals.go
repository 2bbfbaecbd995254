package sqlinline

const QSelectPrincipal = `--sql 372df848-8235-4e09-91b6-e8aecad4ce88
select handle, secret_hash, display_name, email, expires_at
from premium_principals
where lower(handle) = lower($1::text)
  and revoked_at is null
limit 1;
`

const QListPrincipals = `--sql 09d41f9d-9253-4ff1-a4c5-1e67ff18c10e
select handle, secret_hash, display_name, email, expires_at
from premium_principals
where revoked_at is null
order by handle;
`

const QUpsertPrincipal = `--sql 61c95f8c-2d6e-4af4-ae39-089e02e88d37
insert into premium_principals (handle, secret_hash, display_name, email, expires_at, revoked_at, created_at, updated_at)
values ($1::text, $2::text, $3::text, $4::text, $5::timestamptz, null, now(), now())
on conflict (handle) do update set
    secret_hash = excluded.secret_hash,
    display_name = excluded.display_name,
    email = excluded.email,
    expires_at = excluded.expires_at,
    revoked_at = null,
    updated_at = now();
`

const QRevokePrincipal = `--sql 66f30be4-a132-4f17-84bf-15e5af97c3e0
update premium_principals
set revoked_at = now(), updated_at = now()
where lower(handle) = lower($1::text)
  and revoked_at is null;
`
